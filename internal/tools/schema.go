package tools

import (
	"fmt"
	"regexp"

	"github.com/CroLens/server/internal/jsonrpc"
)

// Validation patterns fixed by the protocol contract.
var (
	addressPattern = regexp.MustCompile(`^0x[0-9a-fA-F]{40}$`)
	txHashPattern  = regexp.MustCompile(`^0x[0-9a-fA-F]{64}$`)
	hexDataPattern = regexp.MustCompile(`^0x[0-9a-fA-F]*$`)
)

// Property format tags, mapped to the patterns above during validation.
const (
	FormatAddress = "address"
	FormatTxHash  = "tx_hash"
	FormatHexData = "hex_data"
)

// Schema is the declarative input description of one tool, served verbatim
// by tools/list and walked by the validator. Fields may be added over time,
// never removed.
type Schema struct {
	Type       string              `json:"type"`
	Properties map[string]Property `json:"properties"`
	Required   []string            `json:"required,omitempty"`
}

// Property describes one argument.
type Property struct {
	Type        string    `json:"type"`
	Description string    `json:"description,omitempty"`
	Pattern     string    `json:"pattern,omitempty"`
	Format      string    `json:"-"` // validation shortcut, not serialized
	MaxLength   int       `json:"maxLength,omitempty"`
	Minimum     *float64  `json:"minimum,omitempty"`
	Maximum     *float64  `json:"maximum,omitempty"`
	Enum        []string  `json:"enum,omitempty"`
	Items       *Property `json:"items,omitempty"`
	MinItems    int       `json:"minItems,omitempty"`
	MaxItems    int       `json:"maxItems,omitempty"`
}

// ArrayProp is an array argument with item constraints.
func ArrayProp(desc string, items Property, minItems, maxItems int) Property {
	return Property{Type: "array", Description: desc, Items: &items, MinItems: minItems, MaxItems: maxItems}
}

// ObjectSchema builds an object schema.
func ObjectSchema(props map[string]Property, required ...string) Schema {
	return Schema{Type: "object", Properties: props, Required: required}
}

// AddressProp is a 20-byte hex address argument.
func AddressProp(desc string) Property {
	return Property{Type: "string", Description: desc, Pattern: addressPattern.String(), Format: FormatAddress}
}

// TxHashProp is a 32-byte hex hash argument.
func TxHashProp(desc string) Property {
	return Property{Type: "string", Description: desc, Pattern: txHashPattern.String(), Format: FormatTxHash}
}

// HexDataProp is an arbitrary-length hex payload argument.
func HexDataProp(desc string) Property {
	return Property{Type: "string", Description: desc, Pattern: hexDataPattern.String(), Format: FormatHexData}
}

// StringProp is a free-form string argument with a length cap.
func StringProp(desc string, maxLen int) Property {
	return Property{Type: "string", Description: desc, MaxLength: maxLen}
}

// NumberProp is a numeric argument with an inclusive range.
func NumberProp(desc string, min, max float64) Property {
	return Property{Type: "number", Description: desc, Minimum: &min, Maximum: &max}
}

// BoolProp is a boolean flag argument.
func BoolProp(desc string) Property {
	return Property{Type: "boolean", Description: desc}
}

// Validate checks args against the schema. Violations emit -32602 with a
// human message; no I/O happens before validation passes.
func (s Schema) Validate(args map[string]interface{}) *jsonrpc.Error {
	for _, name := range s.Required {
		if _, ok := args[name]; !ok {
			return jsonrpc.InvalidParams(fmt.Sprintf("Missing required argument %q", name))
		}
	}
	for name, value := range args {
		prop, known := s.Properties[name]
		if !known {
			return jsonrpc.InvalidParams(fmt.Sprintf("Unknown argument %q", name))
		}
		if err := prop.validate(name, value); err != nil {
			return err
		}
	}
	return nil
}

func (p Property) validate(name string, value interface{}) *jsonrpc.Error {
	switch p.Type {
	case "string":
		str, ok := value.(string)
		if !ok {
			return jsonrpc.InvalidParams(fmt.Sprintf("Argument %q must be a string", name))
		}
		if p.MaxLength > 0 && len(str) > p.MaxLength {
			return jsonrpc.InvalidParams(fmt.Sprintf("Argument %q exceeds %d characters", name, p.MaxLength))
		}
		switch p.Format {
		case FormatAddress:
			if !addressPattern.MatchString(str) {
				return jsonrpc.InvalidParams(fmt.Sprintf("Invalid address for %q", name))
			}
		case FormatTxHash:
			if !txHashPattern.MatchString(str) {
				return jsonrpc.InvalidParams(fmt.Sprintf("Invalid transaction hash for %q", name))
			}
		case FormatHexData:
			if !hexDataPattern.MatchString(str) {
				return jsonrpc.InvalidParams(fmt.Sprintf("Invalid hex data for %q", name))
			}
		}
		if len(p.Enum) > 0 {
			found := false
			for _, allowed := range p.Enum {
				if str == allowed {
					found = true
					break
				}
			}
			if !found {
				return jsonrpc.InvalidParams(fmt.Sprintf("Argument %q must be one of %v", name, p.Enum))
			}
		}
	case "number":
		num, ok := value.(float64)
		if !ok {
			return jsonrpc.InvalidParams(fmt.Sprintf("Argument %q must be a number", name))
		}
		if p.Minimum != nil && num < *p.Minimum {
			return jsonrpc.InvalidParams(fmt.Sprintf("Argument %q below minimum %v", name, *p.Minimum))
		}
		if p.Maximum != nil && num > *p.Maximum {
			return jsonrpc.InvalidParams(fmt.Sprintf("Argument %q above maximum %v", name, *p.Maximum))
		}
	case "boolean":
		if _, ok := value.(bool); !ok {
			return jsonrpc.InvalidParams(fmt.Sprintf("Argument %q must be a boolean", name))
		}
	case "array":
		items, ok := value.([]interface{})
		if !ok {
			return jsonrpc.InvalidParams(fmt.Sprintf("Argument %q must be an array", name))
		}
		if p.MinItems > 0 && len(items) < p.MinItems {
			return jsonrpc.InvalidParams(fmt.Sprintf("Argument %q needs at least %d items", name, p.MinItems))
		}
		if p.MaxItems > 0 && len(items) > p.MaxItems {
			return jsonrpc.InvalidParams(fmt.Sprintf("Argument %q allows at most %d items", name, p.MaxItems))
		}
		if p.Items != nil {
			for _, item := range items {
				if err := p.Items.validate(name, item); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// StringsArg returns a validated []string argument.
func StringsArg(args map[string]interface{}, name string) []string {
	raw, ok := args[name].([]interface{})
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// Argument accessors used by tool handlers after validation.

// StringArg returns a string argument or "".
func StringArg(args map[string]interface{}, name string) string {
	if v, ok := args[name].(string); ok {
		return v
	}
	return ""
}

// NumberArg returns a numeric argument or the fallback.
func NumberArg(args map[string]interface{}, name string, fallback float64) float64 {
	if v, ok := args[name].(float64); ok {
		return v
	}
	return fallback
}

// BoolArg returns a boolean argument or false.
func BoolArg(args map[string]interface{}, name string) bool {
	if v, ok := args[name].(bool); ok {
		return v
	}
	return false
}
