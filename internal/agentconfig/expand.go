package agentconfig

import (
	"os"
	"strings"
)

// expandEnv runs once over the raw config bytes before YAML unmarshal,
// replacing ${NAME} and ${NAME:-default} the way a POSIX shell would.
// No pack library implements bash-style inline string interpolation
// (spf13/viper's env support binds top-level keys to env vars, it does not
// expand ${NAME:-default} occurrences embedded inside arbitrary string
// values) so this is a small hand-rolled scanner; see DESIGN.md.
func expandEnv(raw string) string {
	var b strings.Builder
	b.Grow(len(raw))

	i := 0
	for i < len(raw) {
		if raw[i] == '$' && i+1 < len(raw) && raw[i+1] == '{' {
			end := strings.IndexByte(raw[i+2:], '}')
			if end == -1 {
				b.WriteByte(raw[i])
				i++
				continue
			}
			expr := raw[i+2 : i+2+end]
			b.WriteString(resolveExpr(expr))
			i = i + 2 + end + 1
			continue
		}
		b.WriteByte(raw[i])
		i++
	}
	return b.String()
}

// resolveExpr resolves "NAME" or "NAME:-default" against the environment.
func resolveExpr(expr string) string {
	name := expr
	def := ""
	hasDefault := false
	if idx := strings.Index(expr, ":-"); idx >= 0 {
		name = expr[:idx]
		def = expr[idx+2:]
		hasDefault = true
	}
	if v, ok := os.LookupEnv(name); ok && v != "" {
		return v
	}
	if hasDefault {
		return def
	}
	return ""
}
