package config

import (
	"bytes"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// UniverseFile 是股票池文件的结构：顶层符号列表加可选的行业分组。
type UniverseFile struct {
	Symbols []string            `yaml:"symbols"`
	Sectors map[string][]string `yaml:"sectors"`
}

// LoadUniverse 返回归一化后的股票池。配置中内联的 symbols 优先；
// 否则读取 universe.path 指向的 YAML 文件，合并顶层列表与分组。
func LoadUniverse(cfg *Config) ([]string, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if len(cfg.Universe.Symbols) > 0 {
		syms := normalizeSymbols(cfg.Universe.Symbols)
		if len(syms) == 0 {
			return nil, fmt.Errorf("universe.symbols contains no valid entries")
		}
		return syms, nil
	}
	path := strings.TrimSpace(cfg.Universe.Path)
	if path == "" {
		return nil, fmt.Errorf("universe requires either inline symbols or a file path")
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read universe file failed: %w", err)
	}
	var file UniverseFile
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil {
		return nil, fmt.Errorf("parse universe file failed (%s): %w", path, err)
	}
	merged := append([]string(nil), file.Symbols...)
	for _, group := range file.Sectors {
		merged = append(merged, group...)
	}
	syms := normalizeSymbols(merged)
	if len(syms) == 0 {
		return nil, fmt.Errorf("universe file %s yields no symbols", path)
	}
	return syms, nil
}

// normalizeSymbols 去空白、转大写、去重并排序，保证下游遍历顺序稳定。
func normalizeSymbols(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, sym := range in {
		s := strings.ToUpper(strings.TrimSpace(sym))
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}
