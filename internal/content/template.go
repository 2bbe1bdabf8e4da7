package content

import (
	"regexp"
	"strconv"

	"github.com/BTreeMap/CadencePipe/internal/models"
)

var placeholderRe = regexp.MustCompile(`\{\{\s*([a-z_]+)\s*\}\}`)

// Variables returns the template variables available for a lead.
func Variables(l *models.Lead) map[string]string {
	if l == nil {
		return map[string]string{}
	}
	vars := map[string]string{
		"first_name": l.FirstName(),
		"name":       l.Name,
		"company":    l.Company,
		"title":      l.Title,
		"industry":   l.Industry,
		"email":      l.Email,
		"phone":      l.Phone,
		"interest":   l.Interest,
		"cohort":     l.Cohort,
	}
	if l.Score != 0 {
		vars["score"] = strconv.FormatFloat(l.Score, 'f', -1, 64)
	} else {
		vars["score"] = ""
	}
	return vars
}

// Render substitutes {{variable}} placeholders with lead values.
// Unknown placeholders are left untouched.
func Render(tmpl string, l *models.Lead) string {
	if tmpl == "" {
		return ""
	}
	vars := Variables(l)
	return placeholderRe.ReplaceAllStringFunc(tmpl, func(m string) string {
		name := placeholderRe.FindStringSubmatch(m)[1]
		if v, ok := vars[name]; ok {
			return v
		}
		return m
	})
}
