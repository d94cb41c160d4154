package layers

import "strings"

// ExpandTemplate substitutes %{name} placeholders from vars. Unknown
// placeholders are left untouched so a typo is visible instead of
// silently vanishing.
func ExpandTemplate(template string, vars map[string]string) string {
	if len(vars) == 0 || !strings.Contains(template, "%{") {
		return template
	}

	var sb strings.Builder
	sb.Grow(len(template))

	for {
		start := strings.Index(template, "%{")
		if start < 0 {
			sb.WriteString(template)
			break
		}
		end := strings.Index(template[start:], "}")
		if end < 0 {
			sb.WriteString(template)
			break
		}
		end += start

		name := template[start+2 : end]
		if value, ok := vars[name]; ok {
			sb.WriteString(template[:start])
			sb.WriteString(value)
		} else {
			sb.WriteString(template[:end+1])
		}
		template = template[end+1:]
	}

	return sb.String()
}
