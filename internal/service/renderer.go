package service

import (
	"regexp"
	"strconv"
	"strings"

	"wadispatch/internal/models"
)

var placeholderPattern = regexp.MustCompile(`\{\{(\d+)\}\}`)

// RenderTemplate substitutes the numbered {{n}} placeholders of a template
// body for one recipient. Resolution order per placeholder: campaign-level
// variable overrides, then the well-known recipient fields, then the
// recipient's custom fields, then the literal placeholder text. A variable
// is never silently dropped.
func RenderTemplate(body string, variables map[string]string, recipient models.Recipient) string {
	return placeholderPattern.ReplaceAllStringFunc(body, func(match string) string {
		idx := placeholderPattern.FindStringSubmatch(match)[1]
		return resolvePlaceholder(idx, variables, recipient)
	})
}

// BodyParams returns the resolved values for placeholders {{1}}..{{n}} in
// order, as required by the provider's component parameters.
func BodyParams(body string, variables map[string]string, recipient models.Recipient) []string {
	maxIdx := 0
	for _, m := range placeholderPattern.FindAllStringSubmatch(body, -1) {
		if n, err := strconv.Atoi(m[1]); err == nil && n > maxIdx {
			maxIdx = n
		}
	}
	if maxIdx == 0 {
		return nil
	}

	params := make([]string, 0, maxIdx)
	for i := 1; i <= maxIdx; i++ {
		params = append(params, resolvePlaceholder(strconv.Itoa(i), variables, recipient))
	}
	return params
}

func resolvePlaceholder(idx string, variables map[string]string, recipient models.Recipient) string {
	if v, ok := variables[idx]; ok {
		return expandFieldRefs(v, recipient)
	}
	if v := wellKnownField(idx, recipient); v != "" {
		return v
	}
	if v, ok := recipient.CustomFields[idx]; ok {
		return v
	}
	return "{{" + idx + "}}"
}

// expandFieldRefs lets a campaign variable reference recipient fields, e.g.
// "{{name}}" personalizes per recipient while "10% off" stays literal.
func expandFieldRefs(value string, recipient models.Recipient) string {
	if !strings.Contains(value, "{{") {
		return value
	}

	replacer := strings.NewReplacer(
		"{{name}}", recipient.Name,
		"{{phone}}", recipient.Phone,
	)
	out := replacer.Replace(value)

	for field, fieldValue := range recipient.CustomFields {
		out = strings.ReplaceAll(out, "{{"+field+"}}", fieldValue)
	}
	return out
}

func wellKnownField(idx string, recipient models.Recipient) string {
	switch idx {
	case "1":
		// By far the most common convention: {{1}} is the recipient name.
		return recipient.Name
	}
	return ""
}
