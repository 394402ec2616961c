package importing

import (
	"os"
	"path/filepath"
)

// ManifestFiles locates the pieces of an extracted export/ tree.
type ManifestFiles struct {
	Root                  string
	MetaPath              string
	ConsumerPath          string
	ConsumerTypesDir      string
	EntitlementsDir       string
	ProductsDir           string
	UpstreamConsumerDir   string
	RulesDir              string
	RulesV2Dir            string
	DistributorVersionDir string
}

// LocateManifestFiles maps the extracted export directory and enforces the
// required-file contract: meta.json, consumer.json, a consumer_types
// directory and non-empty rules are mandatory; a products directory requires
// an entitlements directory alongside it.
func LocateManifestFiles(exportDir string) (*ManifestFiles, error) {
	mf := &ManifestFiles{
		Root:                  exportDir,
		MetaPath:              filepath.Join(exportDir, "meta.json"),
		ConsumerPath:          filepath.Join(exportDir, "consumer.json"),
		ConsumerTypesDir:      filepath.Join(exportDir, "consumer_types"),
		EntitlementsDir:       filepath.Join(exportDir, "entitlements"),
		ProductsDir:           filepath.Join(exportDir, "products"),
		UpstreamConsumerDir:   filepath.Join(exportDir, "upstream_consumer"),
		RulesDir:              filepath.Join(exportDir, "rules"),
		RulesV2Dir:            filepath.Join(exportDir, "rules2"),
		DistributorVersionDir: filepath.Join(exportDir, "distributor_version"),
	}

	if !fileExists(mf.MetaPath) {
		return nil, newDataFormatErrorf("the archive does not contain the required meta.json file")
	}
	if !dirNonEmpty(mf.RulesDir) && !dirNonEmpty(mf.RulesV2Dir) {
		return nil, newDataFormatErrorf("the archive does not contain the required rules directory")
	}
	if !dirExists(mf.ConsumerTypesDir) {
		return nil, newDataFormatErrorf("the archive does not contain the required consumer_types directory")
	}
	if !fileExists(mf.ConsumerPath) {
		return nil, newDataFormatErrorf("the archive does not contain the required consumer.json file")
	}
	if dirExists(mf.ProductsDir) && !dirExists(mf.EntitlementsDir) {
		return nil, newDataFormatErrorf("the archive contains a products directory but no entitlements directory")
	}

	return mf, nil
}

// listJSONFiles returns the .json files directly under dir, or nil when the
// directory does not exist.
func listJSONFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, &DataFormatError{Msg: "failed to read directory " + dir, Err: err}
	}

	var files []string
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}
		files = append(files, filepath.Join(dir, entry.Name()))
	}
	return files, nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

func dirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

func dirNonEmpty(path string) bool {
	entries, err := os.ReadDir(path)
	return err == nil && len(entries) > 0
}
