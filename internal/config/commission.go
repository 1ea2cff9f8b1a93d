package config

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"github.com/iliyamo/court-reservation/internal/commission"
	"github.com/iliyamo/court-reservation/internal/model"
)

// LoadCommissionTable reads the commission rate table.  With an empty path
// the built-in defaults are returned.  The file is YAML:
//
//	tax_rate: 19
//	rates:
//	  web: 3.5
//	  administrative: 1.75
//
// Missing keys fall back to the defaults; COMMISSION_TAX_RATE and
// COMMISSION_RATES_WEB style environment variables override the file.
func LoadCommissionTable(path string) (commission.Table, error) {
	def := commission.DefaultTable()

	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix("COMMISSION")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	v.SetDefault("tax_rate", def.TaxRate.String())
	for ch, r := range def.Rates {
		v.SetDefault("rates."+string(ch), r.String())
	}
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return commission.Table{}, fmt.Errorf("read commission table %s: %w", path, err)
		}
	}

	tax, err := decimal.NewFromString(v.GetString("tax_rate"))
	if err != nil {
		return commission.Table{}, fmt.Errorf("tax_rate: %w", err)
	}
	t := commission.Table{Rates: map[model.Channel]decimal.Decimal{}, TaxRate: tax}
	for _, ch := range []model.Channel{model.ChannelWeb, model.ChannelAdministrative} {
		key := "rates." + string(ch)
		if !v.IsSet(key) {
			continue
		}
		r, err := decimal.NewFromString(v.GetString(key))
		if err != nil {
			return commission.Table{}, fmt.Errorf("%s: %w", key, err)
		}
		t.Rates[ch] = r
	}
	if err := t.Validate(); err != nil {
		return commission.Table{}, err
	}
	return t, nil
}
