package evidence

import (
	"strings"
	"text/template"

	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"
)

// SystemPrompt is the fixed analyst framing sent with every evaluation. It is
// identical across all changes in a batch, which makes it a prompt-cache fit.
const SystemPrompt = `You are a construction budget analyst. You receive facts about one detected blueprint change: the persisted state, the newly observed values, the budget context, the data-quality signal from the extraction parser, and the business rules in force. Analyze the change and recommend exactly one action using the recommend_action tool. Weigh both your own reasoning confidence and the parser's extraction confidence; when extraction confidence is low, prefer flagging for human review even if the business logic looks sound.`

var templateFuncs = template.FuncMap{
	"money": func(d decimal.Decimal) string { return "$" + d.StringFixed(2) },
	"signedMoney": func(d decimal.Decimal) string {
		s := d.StringFixed(2)
		if d.Sign() >= 0 {
			return "+$" + s
		}
		return "-$" + strings.TrimPrefix(s, "-")
	},
	"pct": func(f float64) string { return decimal.NewFromFloat(f).StringFixed(2) },
	"confidence": func(c *float64) string {
		if c == nil {
			return "not provided"
		}
		return decimal.NewFromFloat(*c).StringFixed(2)
	},
}

var changedAssetTemplate = template.Must(template.New("changed_asset").Funcs(templateFuncs).Parse(`# CURRENT STATE (from state store)
Asset ID: {{.Delta.EntityID}}
Material: {{.Delta.CurrentMaterial}}
Current Quantity: {{.Delta.CurrentQuantity}}
Cost per Unit: {{money .Delta.CostPerUnit}}
Current Total Cost: {{money .Delta.CurrentTotalCost}}
{{- if .Delta.LineItem}}
Linked Budget Code: {{.Delta.LineItem.Code}}
{{- end}}
{{- if .Delta.Vendor}}
Linked Vendor: {{.Delta.Vendor.Name}}
{{- end}}

# DETECTED CHANGE (from new blueprint)
New Quantity: {{.Delta.NewQuantity}}
Quantity Delta: {{printf "%+g" .Delta.QuantityDelta}}
Calculated Cost Impact: {{signedMoney .Delta.CostImpact}}
Material Changed: {{.Delta.MaterialChanged}}
{{- if .Delta.MaterialChanged}}
New Material: {{.Delta.NewMaterial}}
{{- end}}

# DATA QUALITY (from parser)
Extraction Confidence: {{confidence .DataQuality.Confidence}} (0.0-1.0)
Parser Source: {{.DataQuality.Source}}
Data Trustworthiness: {{.DataQuality.TrustLabel}}
{{- if .Delta.LineItem}}

# BUDGET CONTEXT
Budget Line Item: {{.Delta.LineItem.Code}} - {{.Delta.LineItem.Description}}
Allocated Budget: {{money .Delta.LineItem.Allocated}}
Spent to Date: {{money .Delta.LineItem.Spent}}
Remaining Budget: {{money .Delta.LineItem.Remaining}}
Available Contingency: {{money .Delta.LineItem.Contingency}}
{{- end}}

# BUSINESS RULES
- Changes exceeding {{money .Policy.ApprovalThreshold}} require human approval
- Maximum contingency available: {{money .Policy.MaxContingency}}
- Minimum confidence for automatic commits: {{pct .Policy.MinConfidence}}
{{- if .Project}}

# PROJECT CONTEXT
Project: {{.Project.ProjectName}}
Floor: {{.Project.FloorName}}
Blueprint Revision: {{.Project.Revision}}
{{- end}}`))

var newAssetTemplate = template.Must(template.New("new_asset").Funcs(templateFuncs).Parse(`# NEW ASSET DETECTED
Asset ID: {{.Asset.ID}}
Type: {{.Asset.Category}}
Material: {{.Asset.Material}}
Quantity: {{.Asset.Quantity}} {{.Asset.Unit}}
Location: {{.Asset.Location}}

# DATA QUALITY (from parser)
Extraction Confidence: {{confidence .DataQuality.Confidence}} (0.0-1.0)
Parser Source: {{.DataQuality.Source}}
Data Trustworthiness: {{.DataQuality.TrustLabel}}

# BUSINESS RULES
- New assets have no budget line yet; allocation always requires human review
- Maximum contingency available: {{money .Policy.MaxContingency}}
- Minimum confidence for automatic commits: {{pct .Policy.MinConfidence}}
{{- if .Project}}

# PROJECT CONTEXT
Project: {{.Project.ProjectName}}
Floor: {{.Project.FloorName}}
Blueprint Revision: {{.Project.Revision}}
Date: {{.Project.Date}}
{{- end}}`))

var removedAssetTemplate = template.Must(template.New("removed_asset").Funcs(templateFuncs).Parse(`# ASSET REMOVED FROM BLUEPRINT
Asset ID: {{.Asset.ID}}
Type: {{.Asset.Category}}
Material: {{.Asset.Material}}
Quantity: {{.Asset.Quantity}} {{.Asset.Unit}}
{{- if .State}}
Cost per Unit: {{money .State.CostPerUnit}}
Recorded Total Cost: {{money .State.TotalCost}}
Potential Cost Savings: {{money .State.TotalCost}}
{{- end}}
{{- if .LineItem}}

# BUDGET CONTEXT
Budget Line Item: {{.LineItem.Code}} - {{.LineItem.Description}}
Allocated Budget: {{money .LineItem.Allocated}}
Spent to Date: {{money .LineItem.Spent}}
{{- end}}

# DATA QUALITY (from parser)
Extraction Confidence: {{confidence .DataQuality.Confidence}} (0.0-1.0)
Parser Source: {{.DataQuality.Source}}
Data Trustworthiness: {{.DataQuality.TrustLabel}}

# BUSINESS RULES
- Removals always require human review before the budget is released
- Minimum confidence for automatic commits: {{pct .Policy.MinConfidence}}
{{- if .Project}}

# PROJECT CONTEXT
Project: {{.Project.ProjectName}}
Blueprint Revision: {{.Project.Revision}}
{{- end}}`))

// Render implements Package for the changed-asset variant.
func (e ChangedAsset) Render() (string, error) {
	return render(changedAssetTemplate, e)
}

// Render implements Package for the new-asset variant.
func (e NewAsset) Render() (string, error) {
	return render(newAssetTemplate, e)
}

// Render implements Package for the removed-asset variant.
func (e RemovedAsset) Render() (string, error) {
	return render(removedAssetTemplate, e)
}

func render(tmpl *template.Template, data any) (string, error) {
	var sb strings.Builder
	if err := tmpl.Execute(&sb, data); err != nil {
		return "", eris.Wrapf(err, "evidence: render %s", tmpl.Name())
	}
	return sb.String(), nil
}
