package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"gopkg.in/yaml.v3"
)

// Instrument is a tradable code with its display name.
type Instrument struct {
	Code string `yaml:"code"`
	Name string `yaml:"name"`
}

type instrumentsFile struct {
	Instruments []Instrument `yaml:"instruments"`
}

// Universe is the ordered list of target instruments plus a code lookup.
type Universe struct {
	List   []Instrument
	byCode map[string]Instrument
}

// Codes returns the instrument codes in file order.
func (u *Universe) Codes() []string {
	out := make([]string, len(u.List))
	for i, inst := range u.List {
		out[i] = inst.Code
	}
	return out
}

// Name returns the display name for code, or the code itself if unknown.
func (u *Universe) Name(code string) string {
	if inst, ok := u.byCode[code]; ok && inst.Name != "" {
		return inst.Name
	}
	return code
}

// Contains reports whether code is part of the universe.
func (u *Universe) Contains(code string) bool {
	_, ok := u.byCode[code]
	return ok
}

// LoadInstruments reads and validates the YAML instrument mapping at path.
// path may be a glob such as "config/instruments/**/*.yaml"; matching files
// are merged in lexical order and a code listed twice is rejected.
func LoadInstruments(path string) (*Universe, error) {
	files := []string{path}
	if hasMeta(path) {
		matches, err := doublestar.FilepathGlob(path)
		if err != nil {
			return nil, fmt.Errorf("expand instruments pattern: %w", err)
		}
		if len(matches) == 0 {
			return nil, fmt.Errorf("no instruments file matches %q", path)
		}
		sort.Strings(matches)
		files = matches
	}

	var all []Instrument
	for _, f := range files {
		data, err := os.ReadFile(f)
		if err != nil {
			return nil, fmt.Errorf("read instruments file: %w", err)
		}
		list, err := decodeInstruments(data)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", f, err)
		}
		all = append(all, list...)
	}
	return newUniverse(all)
}

func hasMeta(path string) bool {
	return strings.ContainsAny(path, "*?[{")
}

// ParseInstruments decodes an instrument mapping. Unknown keys, empty or
// duplicate codes and non-numeric codes are rejected.
func ParseInstruments(data []byte) (*Universe, error) {
	list, err := decodeInstruments(data)
	if err != nil {
		return nil, err
	}
	return newUniverse(list)
}

func decodeInstruments(data []byte) ([]Instrument, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var f instrumentsFile
	if err := dec.Decode(&f); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("instruments file is empty")
		}
		return nil, fmt.Errorf("decode instruments: %w", err)
	}
	if len(f.Instruments) == 0 {
		return nil, errors.New("instruments file lists no instruments")
	}
	return f.Instruments, nil
}

func newUniverse(list []Instrument) (*Universe, error) {
	u := &Universe{
		List:   make([]Instrument, 0, len(list)),
		byCode: make(map[string]Instrument, len(list)),
	}
	for i, inst := range list {
		inst.Code = strings.TrimSpace(inst.Code)
		inst.Name = strings.TrimSpace(inst.Name)
		if inst.Code == "" {
			return nil, fmt.Errorf("instrument #%d: code is empty", i+1)
		}
		if !isDigits(inst.Code) {
			return nil, fmt.Errorf("instrument #%d: code %q must be numeric", i+1, inst.Code)
		}
		if _, dup := u.byCode[inst.Code]; dup {
			return nil, fmt.Errorf("instrument #%d: duplicate code %s", i+1, inst.Code)
		}
		u.byCode[inst.Code] = inst
		u.List = append(u.List, inst)
	}
	return u, nil
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}
