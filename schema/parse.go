package schema

import "strings"

// ParseType reads a type expression in the spelling used by schema documents:
//
//	int | int32 | int64 | uint32 | uint64 | bool | float | double | string | Name
//	OPTIONAL(T) | LIST(T) | STREAM(T) | REQUIRED(T) | MAP(K,V)
//
// REQUIRED(T) is T. MAP parses so that Build can reject it as unsupported. An empty
// expression or "void" yields nil, the void return type.
func ParseType(expr string) (*TypeRef, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" || expr == "void" {
		return nil, nil
	}
	t, err := parseType(expr)
	if err != nil {
		return nil, err
	}
	return t, nil
}

func parseType(expr string) (*TypeRef, error) {
	expr = strings.TrimSpace(expr)
	open := strings.IndexByte(expr, '(')
	if open < 0 {
		return parseName(expr)
	}
	if !strings.HasSuffix(expr, ")") {
		return nil, errorf("type "+expr, "unbalanced parentheses")
	}
	head := strings.TrimSpace(expr[:open])
	inner := expr[open+1 : len(expr)-1]

	switch strings.ToUpper(head) {
	case "OPTIONAL", "LIST", "STREAM", "REQUIRED":
		elem, err := parseType(inner)
		if err != nil {
			return nil, err
		}
		switch strings.ToUpper(head) {
		case "OPTIONAL":
			return Optional(elem), nil
		case "LIST":
			return List(elem), nil
		case "STREAM":
			return Stream(elem), nil
		}
		return elem, nil
	case "MAP":
		comma := topLevelComma(inner)
		if comma < 0 {
			return nil, errorf("type "+expr, "MAP needs a key and a value type")
		}
		key, err := parseType(inner[:comma])
		if err != nil {
			return nil, err
		}
		val, err := parseType(inner[comma+1:])
		if err != nil {
			return nil, err
		}
		return Map(key, val), nil
	}
	return nil, errorf("type "+expr, "unknown type constructor %q", head)
}

func parseName(name string) (*TypeRef, error) {
	switch name {
	case "int", "int32":
		return Int32(), nil
	case "int64":
		return Int64(), nil
	case "uint32":
		return Uint32(), nil
	case "uint64":
		return Uint64(), nil
	case "bool":
		return Bool(), nil
	case "float":
		return Float(), nil
	case "double":
		return Double(), nil
	case "string":
		return Str(), nil
	}
	if !isIdent(name) {
		return nil, errorf("type "+name, "invalid type name")
	}
	return Named(name), nil
}

func topLevelComma(s string) int {
	depth := 0
	for i, c := range s {
		switch c {
		case '(':
			depth++
		case ')':
			depth--
		case ',':
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

func isIdent(s string) bool {
	if s == "" {
		return false
	}
	for i, c := range s {
		switch {
		case c == '_', c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z':
		case c >= '0' && c <= '9' && i > 0:
		default:
			return false
		}
	}
	return true
}
