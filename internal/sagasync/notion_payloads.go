package sagasync

import (
	"time"
)

// PageProperties is the property map sent on page create and update calls.
type PageProperties map[string]PropertyValue

// PropertyValue covers the Notion property shapes this service writes. Only
// one field is set per value.
type PropertyValue struct {
	Title    []RichTextValue `json:"title,omitempty"`
	RichText []RichTextValue `json:"rich_text,omitempty"`
	Status   *OptionValue    `json:"status,omitempty"`
	Select   *OptionValue    `json:"select,omitempty"`
	Relation []RelationValue `json:"relation,omitempty"`
	Number   *float64        `json:"number,omitempty"`
	Date     *DateValue      `json:"date,omitempty"`
	Checkbox *bool           `json:"checkbox,omitempty"`
}

type RichTextValue struct {
	Text TextContent `json:"text"`
}

type TextContent struct {
	Content string `json:"content"`
}

type OptionValue struct {
	Name string `json:"name"`
}

type RelationValue struct {
	ID string `json:"id"`
}

type DateValue struct {
	Start string `json:"start"`
}

func TitleProperty(value string) PropertyValue {
	return PropertyValue{Title: []RichTextValue{{Text: TextContent{Content: value}}}}
}

func RichTextProperty(value string) PropertyValue {
	return PropertyValue{RichText: []RichTextValue{{Text: TextContent{Content: value}}}}
}

func StatusProperty(status Status) PropertyValue {
	return PropertyValue{Status: &OptionValue{Name: string(status)}}
}

func SelectProperty(value string) PropertyValue {
	return PropertyValue{Select: &OptionValue{Name: value}}
}

func RelationProperty(pageIDs ...string) PropertyValue {
	relations := make([]RelationValue, 0, len(pageIDs))
	for _, id := range pageIDs {
		relations = append(relations, RelationValue{ID: id})
	}
	return PropertyValue{Relation: relations}
}

func NumberProperty(value float64) PropertyValue {
	return PropertyValue{Number: &value}
}

func DateProperty(value string) PropertyValue {
	return PropertyValue{Date: &DateValue{Start: value}}
}

func CheckboxProperty(value bool) PropertyValue {
	return PropertyValue{Checkbox: &value}
}

// bookPageProperties builds the full property set for a book page. The series
// relation is attached only for books with a resolved series page.
func bookPageProperties(record BookRecord) PageProperties {
	props := PageProperties{
		"Name":   TitleProperty(record.Title),
		"ASIN":   RichTextProperty(record.ASIN),
		"Status": StatusProperty(record.Status),
		"Owned":  CheckboxProperty(record.Owned),
	}
	if record.Author != "" {
		props["Author"] = RichTextProperty(record.Author)
	}
	if record.Source != "" {
		props["Source"] = SelectProperty(record.Source)
	}
	if record.SeriesOrder != nil {
		props["Series Order"] = NumberProperty(*record.SeriesOrder)
	}
	if record.PurchasedAt != "" {
		props["Purchased At"] = DateProperty(record.PurchasedAt)
	}
	return props
}

func seriesPageProperties(record SeriesRecord) PageProperties {
	return PageProperties{
		"Name":       TitleProperty(record.SeriesName),
		"Series Key": RichTextProperty(record.SeriesKey),
	}
}

func statusPatch(status Status) PageProperties {
	return PageProperties{"Status": StatusProperty(status)}
}

func finalStatusPatch(status Status) PageProperties {
	return PageProperties{"Final Status": StatusProperty(status)}
}

// Page is a read-side view of a directory page, used by maintenance sweeps.
type Page struct {
	ID           string
	Archived     bool
	LastEditedAt time.Time
	properties   map[string]propertyDetail
}

type propertyDetail struct {
	Title    []richTextSpan  `json:"title"`
	RichText []richTextSpan  `json:"rich_text"`
	Status   *OptionValue    `json:"status"`
	Select   *OptionValue    `json:"select"`
	Number   *float64        `json:"number"`
	Relation []RelationValue `json:"relation"`
}

type richTextSpan struct {
	PlainText string       `json:"plain_text"`
	Text      *TextContent `json:"text"`
}

func newPage(body pageBody) Page {
	page := Page{ID: body.ID, Archived: body.Archived, properties: body.Properties}
	if body.LastEditedTime != "" {
		if ts, err := time.Parse(time.RFC3339, body.LastEditedTime); err == nil {
			page.LastEditedAt = ts
		}
	}
	return page
}

// PlainText joins the text spans of a title or rich_text property.
func (p Page) PlainText(property string) string {
	detail, ok := p.properties[property]
	if !ok {
		return ""
	}
	spans := detail.Title
	if len(spans) == 0 {
		spans = detail.RichText
	}
	text := ""
	for _, span := range spans {
		if span.PlainText != "" {
			text += span.PlainText
			continue
		}
		if span.Text != nil {
			text += span.Text.Content
		}
	}
	return text
}

func (p Page) StatusName(property string) string {
	detail, ok := p.properties[property]
	if !ok {
		return ""
	}
	if detail.Status != nil {
		return detail.Status.Name
	}
	if detail.Select != nil {
		return detail.Select.Name
	}
	return ""
}

func (p Page) Number(property string) *float64 {
	detail, ok := p.properties[property]
	if !ok {
		return nil
	}
	return detail.Number
}

func (p Page) RelationIDs(property string) []string {
	detail, ok := p.properties[property]
	if !ok {
		return nil
	}
	ids := make([]string, 0, len(detail.Relation))
	for _, relation := range detail.Relation {
		ids = append(ids, relation.ID)
	}
	return ids
}
