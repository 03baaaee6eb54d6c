package models

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"
	"time"

	"github.com/mmdatafocus/macantine_backend/utils"
	"github.com/shopspring/decimal"
	"github.com/yuin/goldmark"
)

// ProofData is what a renderer needs to produce a declaration certificate.
type ProofData struct {
	Teledeclaration    *Teledeclaration
	Data               DeclaredData
	SubmittedAt        time.Time
	CentralKitchenName string
}

type ProofDocument struct {
	Filename    string
	ContentType string
	Body        []byte
}

type ProofRenderer interface {
	Render(data ProofData) (*ProofDocument, error)
}

func ProofFilename(year int, canteenName string, submittedAt time.Time) string {
	return fmt.Sprintf("teledeclaration-%d--%s--%s.html", year, utils.Slugify(canteenName), submittedAt.Format("2006-01-02"))
}

var modeLabels = map[TeledeclarationMode]string{
	TeledeclarationModeSite:                  "Cantine déclarant ses propres données",
	TeledeclarationModeCentral:               "Cuisine centrale déclarant ses propres données",
	TeledeclarationModeCentralAppro:          "Cuisine centrale déclarant les données d'approvisionnement de ses satellites",
	TeledeclarationModeCentralAll:            "Cuisine centrale déclarant toutes les données de ses satellites",
	TeledeclarationModeSatelliteWithoutAppro: "Satellite déclarant ses propres données d'approvisionnement, non couvertes par sa cuisine centrale",
}

const proofTemplate = `# Attestation de télédéclaration {{.Year}}

**{{.CanteenName}}** (SIRET {{.Siret}})

Télédéclaration n° {{.ID}} transmise le {{.SubmittedAt}} par {{.Applicant}}.

Mode : {{.Mode}}
{{- if .CentralKitchen}}

Cuisine centrale : {{.CentralKitchen}}
{{- end}}

## Approvisionnement
{{if .Appro}}
| Indicateur | Valeur (HT) | Part |
|---|---|---|
{{- range .Appro}}
| {{.Label}} | {{.Value}} | {{.Percent}} |
{{- end}}
{{else}}
Les données d'approvisionnement sont déclarées par la cuisine centrale.
{{end}}
## Mesures

{{- range .Measures}}
- {{.}}
{{- end}}
`

var parsedProofTemplate = template.Must(template.New("proof").Parse(proofTemplate))

type proofLine struct {
	Label   string
	Value   string
	Percent string
}

type proofView struct {
	ID             int
	Year           int
	CanteenName    string
	Siret          string
	SubmittedAt    string
	Applicant      string
	Mode           string
	CentralKitchen string
	Appro          []proofLine
	Measures       []string
}

// markdownProofRenderer fills a markdown template and converts it to HTML.
type markdownProofRenderer struct {
	md goldmark.Markdown
}

func NewMarkdownProofRenderer() ProofRenderer {
	return &markdownProofRenderer{md: goldmark.New()}
}

func (r *markdownProofRenderer) Render(data ProofData) (*ProofDocument, error) {
	view := newProofView(data)

	var source bytes.Buffer
	if err := parsedProofTemplate.Execute(&source, view); err != nil {
		return nil, fmt.Errorf("proof template: %w", err)
	}
	var body bytes.Buffer
	body.WriteString("<!DOCTYPE html>\n<html lang=\"fr\"><head><meta charset=\"utf-8\"><title>")
	body.WriteString(fmt.Sprintf("Télédéclaration %d", data.Data.Year))
	body.WriteString("</title></head><body>\n")
	if err := r.md.Convert(source.Bytes(), &body); err != nil {
		return nil, fmt.Errorf("proof markdown: %w", err)
	}
	body.WriteString("</body></html>\n")

	return &ProofDocument{
		Filename:    ProofFilename(data.Data.Year, data.Data.Canteen.Name, data.SubmittedAt),
		ContentType: "text/html; charset=utf-8",
		Body:        body.Bytes(),
	}, nil
}

var markdownEscaper = strings.NewReplacer(
	`\`, `\\`, "*", `\*`, "_", `\_`, "`", "\\`", "|", `\|`,
	"[", `\[`, "]", `\]`, "<", "&lt;", ">", "&gt;", "#", `\#`,
)

func newProofView(data ProofData) proofView {
	d := data.Data
	view := proofView{
		Year:           d.Year,
		CanteenName:    markdownEscaper.Replace(d.Canteen.Name),
		Siret:          d.Canteen.Siret,
		SubmittedAt:    data.SubmittedAt.Format("02/01/2006"),
		Applicant:      markdownEscaper.Replace(d.Applicant.Name),
		CentralKitchen: markdownEscaper.Replace(data.CentralKitchenName),
	}
	if data.Teledeclaration != nil {
		view.ID = data.Teledeclaration.ID
		view.Mode = modeLabels[data.Teledeclaration.TeledeclarationMode]
		if data.Teledeclaration.TeledeclarationMode == TeledeclarationModeSatelliteWithoutAppro && view.CentralKitchen == "" {
			view.CentralKitchen = d.CentralKitchenSiret
		}
	}
	if view.Applicant == "" {
		view.Applicant = "un gestionnaire"
	}

	appro := d.Teledeclaration.ApproValues()
	if appro.ValueTotalHt.Valid {
		total := appro.ValueTotalHt
		view.Appro = []proofLine{
			approLine("Total", total, total),
			approLine("Bio", appro.BioTotal(), total),
			approLine("Qualité et durables (hors bio)", appro.SustainableTotal(), total),
			approLine("Commerce équitable", appro.ValueFairTradeHt, total),
			approLine("Externalités et performance", appro.ValueExternalityPerformanceHt, total),
			approLine("Autres EGAlim", appro.ValueEgalimOthersHt, total),
		}
	}

	q := d.Teledeclaration
	view.Measures = []string{
		"Diagnostic gaspillage réalisé : " + yesNo(q.HasWasteDiagnostic),
		fmt.Sprintf("Actions contre le gaspillage : %d", len(q.WasteActions)),
		"Convention de dons : " + yesNo(q.HasDonationAgreement),
		"Menu végétarien : " + recurrenceLabel(VegetarianRecurrence(q.VegetarianWeeklyRecurrence)),
		"Contenants de cuisson sans plastique : " + yesNo(q.CookingPlasticSubstituted),
		"Contenants de service sans plastique : " + yesNo(q.ServingPlasticSubstituted),
		"Bouteilles plastiques supprimées : " + yesNo(q.PlasticBottlesSubstituted),
		"Ustensiles plastiques supprimés : " + yesNo(q.PlasticTablewareSubstituted),
		"Information des convives : " + yesNo(q.CommunicatesOnFoodQuality),
	}
	return view
}

func approLine(label string, value decimal.NullDecimal, total decimal.NullDecimal) proofLine {
	line := proofLine{Label: label, Value: "non renseigné", Percent: "-"}
	if !value.Valid {
		return line
	}
	line.Value = value.Decimal.StringFixed(2) + " €"
	if share, ok := ratio(value, total); ok {
		line.Percent = share.Mul(decimal.NewFromInt(100)).Round(0).String() + " %"
	}
	return line
}

func yesNo(b *bool) string {
	switch {
	case b == nil:
		return "non renseigné"
	case *b:
		return "oui"
	}
	return "non"
}

func recurrenceLabel(r VegetarianRecurrence) string {
	switch r {
	case VegetarianRecurrenceLow:
		return "moins d'une fois par semaine"
	case VegetarianRecurrenceMid:
		return "une fois par semaine"
	case VegetarianRecurrenceHigh:
		return "plus d'une fois par semaine"
	case VegetarianRecurrenceDaily:
		return "de façon quotidienne"
	}
	return "non renseigné"
}
