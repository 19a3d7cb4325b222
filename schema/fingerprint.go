package schema

import (
	"fmt"
	"hash/crc32"
	"strings"
)

// Fingerprint hashes the wire-relevant shape of the schema: enum numbers, field and
// parameter order, type shapes, and service/method indices. Names of fields and
// params are included too, since generated peers expose them. Any reordering changes
// the fingerprint, which is how incompatible peers are told apart.
func (s *Schema) Fingerprint() uint32 {
	return crc32.ChecksumIEEE([]byte(s.canonical()))
}

func (s *Schema) canonical() string {
	var b strings.Builder
	for _, e := range s.Enums {
		fmt.Fprintf(&b, "enum %s{", e.Name)
		for _, v := range e.Values {
			fmt.Fprintf(&b, "%s=%d;", v.Name, v.Number)
		}
		b.WriteString("}\n")
	}
	for _, st := range s.Structs {
		fmt.Fprintf(&b, "struct %s{", st.Name)
		for _, f := range st.Fields {
			fmt.Fprintf(&b, "%s:%s;", f.Name, f.Type)
		}
		b.WriteString("}\n")
	}
	for _, svc := range s.Services {
		fmt.Fprintf(&b, "service %s#%d{", svc.Name, svc.Index)
		for _, m := range svc.Methods {
			fmt.Fprintf(&b, "%s#%d(", m.Name, m.Index)
			for _, p := range m.Params {
				fmt.Fprintf(&b, "%s:%s,", p.Name, p.Type)
			}
			fmt.Fprintf(&b, ")%s;", m.Returns)
		}
		b.WriteString("}\n")
	}
	return b.String()
}
