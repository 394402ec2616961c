package exporting

import (
	"context"
	"encoding/json"
	"fmt"
	"path"
	"strconv"

	"github.com/Ramsey-B/fern/pkg/models"
)

// Envelope is the read-only snapshot of everything one export serializes.
// Sections consume it; nothing in the export path mutates persisted state.
type Envelope struct {
	Meta                models.Meta
	Consumer            models.Consumer
	ConsumerTypes       []models.ConsumerType
	Subscriptions       []models.Subscription
	Products            []models.Product
	ProductCerts        map[string]string // product id -> PEM, numeric ids only
	UpstreamIdentity    *models.IdentityCertificate
	Rules               models.RulesSource
	LegacyRules         string
	DistributorVersions []models.DistributorVersion
}

// Section serializes one entity kind into files under the export/ tree.
// Returned paths are relative to the export root.
type Section interface {
	Name() string
	Export(ctx context.Context, env *Envelope) (map[string][]byte, error)
}

// Sections returns the ordered layout registry. The exporter walks it in
// order to produce the archive tree.
func Sections() []Section {
	return []Section{
		metaSection{},
		consumerSection{},
		consumerTypesSection{},
		entitlementsSection{},
		entitlementCertsSection{},
		productsSection{},
		upstreamConsumerSection{},
		rulesSection{},
		distributorVersionsSection{},
	}
}

func marshal(v any) ([]byte, error) {
	return json.MarshalIndent(v, "", "  ")
}

type metaSection struct{}

func (metaSection) Name() string { return "meta" }

func (metaSection) Export(_ context.Context, env *Envelope) (map[string][]byte, error) {
	data, err := marshal(env.Meta)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize meta: %w", err)
	}
	return map[string][]byte{"meta.json": data}, nil
}

type consumerSection struct{}

func (consumerSection) Name() string { return "consumer" }

func (consumerSection) Export(_ context.Context, env *Envelope) (map[string][]byte, error) {
	data, err := marshal(env.Consumer)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize consumer: %w", err)
	}
	return map[string][]byte{"consumer.json": data}, nil
}

type consumerTypesSection struct{}

func (consumerTypesSection) Name() string { return "consumer_types" }

func (consumerTypesSection) Export(_ context.Context, env *Envelope) (map[string][]byte, error) {
	files := make(map[string][]byte, len(env.ConsumerTypes))
	for _, ct := range env.ConsumerTypes {
		data, err := marshal(ct)
		if err != nil {
			return nil, fmt.Errorf("failed to serialize consumer type %s: %w", ct.Label, err)
		}
		files[path.Join("consumer_types", ct.Label+".json")] = data
	}
	return files, nil
}

// entitlementWire is the wire form written to entitlements/<id>.json. The
// import side reads this back into a transient subscription.
type entitlementWire struct {
	ID          string                          `json:"id"`
	Pool        entitlementPoolWire             `json:"pool"`
	Quantity    int64                           `json:"quantity"`
	StartDate   string                          `json:"startDate"`
	EndDate     string                          `json:"endDate"`
	Certificate *models.SubscriptionCertificate `json:"certificate,omitempty"`
}

type entitlementPoolWire struct {
	ID                 string   `json:"id"`
	ProductID          string   `json:"productId"`
	DerivedProductID   *string  `json:"derivedProductId,omitempty"`
	ProvidedProductIDs []string `json:"providedProducts,omitempty"`
	ContractNumber     string   `json:"contractNumber,omitempty"`
	AccountNumber      string   `json:"accountNumber,omitempty"`
	OrderNumber        string   `json:"orderNumber,omitempty"`
}

type entitlementsSection struct{}

func (entitlementsSection) Name() string { return "entitlements" }

func (entitlementsSection) Export(_ context.Context, env *Envelope) (map[string][]byte, error) {
	files := make(map[string][]byte, len(env.Subscriptions))
	for _, sub := range env.Subscriptions {
		wire := entitlementWire{
			ID:          sub.ID,
			Quantity:    sub.Quantity,
			StartDate:   sub.StartDate.UTC().Format(wireTimeFormat),
			EndDate:     sub.EndDate.UTC().Format(wireTimeFormat),
			Certificate: sub.Certificate,
			Pool: entitlementPoolWire{
				ID:                 sub.ID,
				ProductID:          sub.ProductID,
				DerivedProductID:   sub.DerivedProductID,
				ProvidedProductIDs: sub.ProvidedProductIDs,
				ContractNumber:     sub.ContractNumber,
				AccountNumber:      sub.AccountNumber,
				OrderNumber:        sub.OrderNumber,
			},
		}
		data, err := marshal(wire)
		if err != nil {
			return nil, fmt.Errorf("failed to serialize entitlement %s: %w", sub.ID, err)
		}
		files[path.Join("entitlements", sub.ID+".json")] = data
	}
	return files, nil
}

type entitlementCertsSection struct{}

func (entitlementCertsSection) Name() string { return "entitlement_certificates" }

func (entitlementCertsSection) Export(_ context.Context, env *Envelope) (map[string][]byte, error) {
	files := make(map[string][]byte)
	for _, sub := range env.Subscriptions {
		cert := sub.Certificate
		if cert == nil {
			continue
		}
		name := path.Join("entitlement_certificates", fmt.Sprintf("%d.pem", cert.Serial.ID))
		files[name] = []byte(cert.Cert + cert.Key)
	}
	return files, nil
}

type productsSection struct{}

func (productsSection) Name() string { return "products" }

func (productsSection) Export(_ context.Context, env *Envelope) (map[string][]byte, error) {
	files := make(map[string][]byte)
	for _, product := range env.Products {
		data, err := marshal(product)
		if err != nil {
			return nil, fmt.Errorf("failed to serialize product %s: %w", product.ID, err)
		}
		files[path.Join("products", product.ID+".json")] = data

		// Product certificates exist only for market products with numeric ids.
		if _, err := strconv.ParseInt(product.ID, 10, 64); err != nil {
			continue
		}
		if pem, ok := env.ProductCerts[product.ID]; ok && pem != "" {
			files[path.Join("products", product.ID+".pem")] = []byte(pem)
		}
	}
	return files, nil
}

type upstreamConsumerSection struct{}

func (upstreamConsumerSection) Name() string { return "upstream_consumer" }

func (upstreamConsumerSection) Export(_ context.Context, env *Envelope) (map[string][]byte, error) {
	if env.UpstreamIdentity == nil {
		return nil, nil
	}
	data, err := marshal(env.UpstreamIdentity)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize upstream consumer identity: %w", err)
	}
	name := path.Join("upstream_consumer", fmt.Sprintf("%d.json", env.UpstreamIdentity.Serial.ID))
	return map[string][]byte{name: data}, nil
}

type rulesSection struct{}

func (rulesSection) Name() string { return "rules" }

func (rulesSection) Export(_ context.Context, env *Envelope) (map[string][]byte, error) {
	return map[string][]byte{
		// Legacy path kept for pre-rules2 consumers.
		path.Join("rules", "default-rules.js"): []byte(env.LegacyRules),
		path.Join("rules2", "rules.js"):        []byte(env.Rules.Content),
	}, nil
}

type distributorVersionsSection struct{}

func (distributorVersionsSection) Name() string { return "distributor_version" }

func (distributorVersionsSection) Export(_ context.Context, env *Envelope) (map[string][]byte, error) {
	// The directory is omitted entirely when no versions are known.
	if len(env.DistributorVersions) == 0 {
		return nil, nil
	}
	files := make(map[string][]byte, len(env.DistributorVersions))
	for _, dv := range env.DistributorVersions {
		data, err := marshal(dv)
		if err != nil {
			return nil, fmt.Errorf("failed to serialize distributor version %s: %w", dv.Name, err)
		}
		files[path.Join("distributor_version", dv.Name+".json")] = data
	}
	return files, nil
}

const wireTimeFormat = "2006-01-02T15:04:05Z07:00"
