// Package catalog maps exchange symbols to feed tokens.
package catalog

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"angelone_tickstream/models"
	"angelone_tickstream/resolver"
)

const EquityType = "EQ"

var ErrEmptyShard = errors.New("no tokens for this instance")

type Instrument struct {
	Exchange       models.ExchangeType
	Token          string
	Symbol         string
	Name           string
	InstrumentType string
}

// scrip master segment codes
var segments = map[string]models.ExchangeType{
	"NSE":   models.NSE_CM,
	"NFO":   models.NSE_FO,
	"BSE":   models.BSE_CM,
	"BFO":   models.BSE_FO,
	"MCX":   models.MCX_FO,
	"NCDEX": models.NCX_FO,
	"CDS":   models.CDE_FO,
}

func parseExchange(s string) (models.ExchangeType, error) {
	if e, ok := segments[strings.ToUpper(strings.TrimSpace(s))]; ok {
		return e, nil
	}
	return models.ParseExchangeType(s)
}

type Catalog struct {
	byExchange map[models.ExchangeType][]Instrument
	bySymbol   map[models.ExchangeType]map[string]Instrument
}

func New(instruments []Instrument) *Catalog {
	c := &Catalog{
		byExchange: make(map[models.ExchangeType][]Instrument),
		bySymbol:   make(map[models.ExchangeType]map[string]Instrument),
	}
	for _, in := range instruments {
		in.Symbol = strings.ToUpper(in.Symbol)
		c.byExchange[in.Exchange] = append(c.byExchange[in.Exchange], in)
		if c.bySymbol[in.Exchange] == nil {
			c.bySymbol[in.Exchange] = make(map[string]Instrument)
		}
		c.bySymbol[in.Exchange][in.Symbol] = in
	}
	return c
}

// LoadFile reads a YAML catalog (.yaml, .yml) or a JSON scrip master (.json).
func LoadFile(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return ParseYAML(data)
	case ".json":
		return ParseScripMaster(data)
	}
	return nil, fmt.Errorf("unsupported catalog format %q", path)
}

type yamlFile struct {
	Instruments []struct {
		Exchange       string `yaml:"exchange"`
		Token          string `yaml:"token"`
		Symbol         string `yaml:"symbol"`
		Name           string `yaml:"name"`
		InstrumentType string `yaml:"instrument_type"`
	} `yaml:"instruments"`
}

func ParseYAML(data []byte) (*Catalog, error) {
	var f yamlFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse yaml catalog: %w", err)
	}
	instruments := make([]Instrument, 0, len(f.Instruments))
	for i, raw := range f.Instruments {
		ex, err := parseExchange(raw.Exchange)
		if err != nil {
			return nil, fmt.Errorf("instrument %d: %w", i, err)
		}
		if raw.Token == "" || raw.Symbol == "" {
			return nil, fmt.Errorf("instrument %d: token and symbol are required", i)
		}
		instruments = append(instruments, Instrument{
			Exchange:       ex,
			Token:          raw.Token,
			Symbol:         raw.Symbol,
			Name:           raw.Name,
			InstrumentType: strings.ToUpper(raw.InstrumentType),
		})
	}
	return New(instruments), nil
}

type scrip struct {
	Token          string `json:"token"`
	Symbol         string `json:"symbol"`
	Name           string `json:"name"`
	ExchSeg        string `json:"exch_seg"`
	InstrumentType string `json:"instrumenttype"`
}

// ParseScripMaster reads the broker's instrument dump. Rows on unknown
// segments are skipped. Cash segment rows without an instrument type are
// equities.
func ParseScripMaster(data []byte) (*Catalog, error) {
	var rows []scrip
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, fmt.Errorf("parse scrip master: %w", err)
	}
	instruments := make([]Instrument, 0, len(rows))
	for _, row := range rows {
		ex, ok := segments[strings.ToUpper(row.ExchSeg)]
		if !ok || row.Token == "" {
			continue
		}
		typ := strings.ToUpper(row.InstrumentType)
		if typ == "" && (ex == models.NSE_CM || ex == models.BSE_CM) {
			typ = EquityType
		}
		instruments = append(instruments, Instrument{
			Exchange:       ex,
			Token:          row.Token,
			Symbol:         row.Symbol,
			Name:           row.Name,
			InstrumentType: typ,
		})
	}
	return New(instruments), nil
}

func (c *Catalog) Len() int {
	n := 0
	for _, ins := range c.byExchange {
		n += len(ins)
	}
	return n
}

// Tokens returns token -> symbol for the given symbols on exchange, plus the
// symbols that are not listed. NSE cash symbols are looked up with the -EQ
// suffix. Without symbols every equity of the exchange is returned.
func (c *Catalog) Tokens(exchange models.ExchangeType, symbols []string) (map[string]string, []string) {
	tokens := make(map[string]string)
	if len(symbols) == 0 {
		for _, in := range c.byExchange[exchange] {
			if in.InstrumentType == EquityType {
				tokens[in.Token] = in.Symbol
			}
		}
		return tokens, nil
	}

	var invalid []string
	for _, s := range symbols {
		in, ok := c.bySymbol[exchange][normalize(exchange, s)]
		if !ok {
			invalid = append(invalid, s)
			continue
		}
		tokens[in.Token] = in.Symbol
	}
	return tokens, invalid
}

func normalize(exchange models.ExchangeType, symbol string) string {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if exchange == models.NSE_CM && !strings.HasSuffix(symbol, "-EQ") {
		symbol += "-EQ"
	}
	return symbol
}

// Subscribe picks the tokens one instance subscribes to on exchange (see
// Tokens and Shard) and registers only those in r, under exchange. Tokens
// listed on other segments are never registered, so a token shared between
// segments resolves to the configured exchange.
func (c *Catalog) Subscribe(r *resolver.Resolver, exchange models.ExchangeType, symbols []string, instance, perInstance int) (map[string]string, []string, error) {
	tokens, invalid := c.Tokens(exchange, symbols)
	shard, err := Shard(tokens, instance, perInstance)
	if err != nil {
		return nil, invalid, err
	}
	r.Register(exchange, shard)
	return shard, invalid, nil
}

// Shard returns the instance-th slice of perInstance tokens, taken from
// tokens in ascending token order. Every instance given the same input picks
// a disjoint slice.
func Shard(tokens map[string]string, instance, perInstance int) (map[string]string, error) {
	if instance < 0 || perInstance <= 0 {
		return nil, fmt.Errorf("invalid shard %d of size %d", instance, perInstance)
	}
	keys := make([]string, 0, len(tokens))
	for k := range tokens {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if len(keys[i]) != len(keys[j]) {
			return len(keys[i]) < len(keys[j])
		}
		return keys[i] < keys[j]
	})

	start := instance * perInstance
	if start >= len(keys) {
		return nil, fmt.Errorf("instance %d: %w", instance, ErrEmptyShard)
	}
	end := start + perInstance
	if end > len(keys) {
		end = len(keys)
	}
	out := make(map[string]string, end-start)
	for _, k := range keys[start:end] {
		out[k] = tokens[k]
	}
	return out, nil
}
