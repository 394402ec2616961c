package models

// Product is the transient product graph node carried in a manifest. Derived
// and provided relations reference other products in the same manifest only.
type Product struct {
	UUID             string            `json:"uuid,omitempty"`
	ID               string            `json:"id"`
	Name             string            `json:"name"`
	Multiplier       int64             `json:"multiplier"`
	Attributes       map[string]string `json:"attributes,omitempty"`
	Content          []ProductContent  `json:"productContent,omitempty"`
	DependentIDs     []string          `json:"dependentProductIds,omitempty"`
	DerivedProduct   *Product          `json:"derivedProduct,omitempty"`
	ProvidedProducts []*Product        `json:"providedProducts,omitempty"`
}

// ProductContent associates a content set with a product.
type ProductContent struct {
	Content Content `json:"content"`
	Enabled bool    `json:"enabled"`
}

// Content is a repository definition attached to a product.
type Content struct {
	UUID               string   `json:"uuid,omitempty"`
	ID                 string   `json:"id"`
	Type               string   `json:"type"`
	Label              string   `json:"label"`
	Name               string   `json:"name"`
	Vendor             string   `json:"vendor"`
	ContentURL         string   `json:"contentUrl,omitempty"`
	RequiredTags       string   `json:"requiredTags,omitempty"`
	ReleaseVersion     string   `json:"releaseVer,omitempty"`
	GpgURL             string   `json:"gpgUrl,omitempty"`
	ModifiedProductIDs []string `json:"modifiedProductIds,omitempty"`
	Arches             string   `json:"arches,omitempty"`
	MetadataExpiration int64    `json:"metadataExpire,omitempty"`
}
