package prompt

import (
	"context"
	"strings"

	contractx "github.com/tanpawarit/Chative-Voice-Ordering/agent/contract"
	menux "github.com/tanpawarit/Chative-Voice-Ordering/agent/menu"
)

// MenuConfig switches individual customizations off without a redeploy of the catalog.
type MenuConfig struct {
	DisabledMilks  []string `envconfig:"DISABLED_MILKS" split_words:"true"`
	DisabledSyrups []string `envconfig:"DISABLED_SYRUPS" split_words:"true"`
}

var _ contractx.CustomizationSource = (*StaticCustomizations)(nil)

// StaticCustomizations offers every catalog milk and syrup except the disabled ones.
type StaticCustomizations struct {
	catalog *menux.Catalog
	cfg     MenuConfig
}

func NewStaticCustomizations(catalog *menux.Catalog, cfg MenuConfig) *StaticCustomizations {
	if catalog == nil {
		catalog = menux.Default()
	}
	return &StaticCustomizations{catalog: catalog, cfg: cfg}
}

func (s *StaticCustomizations) EnabledCustomizations(ctx context.Context) (contractx.Customizations, error) {
	return contractx.Customizations{
		Milks:  without(s.catalog.MilkNames(), s.cfg.DisabledMilks),
		Syrups: without(s.catalog.SyrupNames(), s.cfg.DisabledSyrups),
	}, nil
}

func without(all, disabled []string) []string {
	off := make(map[string]struct{}, len(disabled))
	for _, d := range disabled {
		off[strings.ToLower(strings.TrimSpace(d))] = struct{}{}
	}

	out := make([]string, 0, len(all))
	for _, name := range all {
		if _, ok := off[strings.ToLower(name)]; ok {
			continue
		}
		out = append(out, name)
	}
	return out
}
