package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/steveyegge/kvsync/internal/kv"
)

// parseValue converts a command-line argument into a value of the named
// type.
func parseValue(raw, typ string) (kv.Value, error) {
	switch typ {
	case "", "string":
		return raw, nil
	case "int":
		i, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid int %q: %w", raw, err)
		}
		return i, nil
	case "float":
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid float %q: %w", raw, err)
		}
		return f, nil
	case "bool":
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid bool %q: %w", raw, err)
		}
		return b, nil
	case "time":
		t, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return nil, fmt.Errorf("invalid time %q (want RFC 3339): %w", raw, err)
		}
		return t, nil
	case "json":
		var v any
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			return nil, fmt.Errorf("invalid JSON: %w", err)
		}
		if v == nil {
			return nil, fmt.Errorf("JSON null is not a value; use delete")
		}
		return kv.Normalize(v)
	default:
		return nil, fmt.Errorf("unknown type %q (want string, int, float, bool, time or json)", typ)
	}
}

// renderSnapshot writes data to w in format: json, yaml or toml.
func renderSnapshot(w io.Writer, data map[string]kv.Value, format string) error {
	plain := make(map[string]any, len(data))
	for k, v := range data {
		plain[k] = kv.Plain(v)
	}

	switch format {
	case "json":
		// encoding/json sorts map keys.
		out, err := json.MarshalIndent(plain, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to encode JSON: %w", err)
		}
		_, err = fmt.Fprintf(w, "%s\n", out)
		return err
	case "yaml":
		var buf bytes.Buffer
		enc := yaml.NewEncoder(&buf)
		enc.SetIndent(2)
		if err := enc.Encode(plain); err != nil {
			return fmt.Errorf("failed to encode YAML: %w", err)
		}
		if err := enc.Close(); err != nil {
			return fmt.Errorf("failed to encode YAML: %w", err)
		}
		_, err := w.Write(buf.Bytes())
		return err
	case "toml":
		if err := toml.NewEncoder(w).Encode(plain); err != nil {
			return fmt.Errorf("failed to encode TOML: %w", err)
		}
		return nil
	default:
		return fmt.Errorf("unknown format %q (want json, yaml or toml)", format)
	}
}

func sortedKeys(data map[string]kv.Value) []string {
	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
