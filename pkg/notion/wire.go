package notion

import (
	"fmt"
	"time"
)

// Database property names.
const (
	propName       = "Name"
	propStatus     = "Status"
	propUrgency    = "Urgency"
	propImportance = "Importance"
	propCategory   = "Category"
	propDue        = "Due"
	propTags       = "Tags"
	propProduct    = "Product"
)

type pageObject struct {
	ID             string              `json:"id"`
	URL            string              `json:"url"`
	CreatedTime    time.Time           `json:"created_time"`
	LastEditedTime time.Time           `json:"last_edited_time"`
	Properties     map[string]property `json:"properties"`
}

type property struct {
	Title       []richText    `json:"title,omitempty"`
	RichText    []richText    `json:"rich_text,omitempty"`
	Select      *selectValue  `json:"select,omitempty"`
	MultiSelect []selectValue `json:"multi_select,omitempty"`
	Date        *dateValue    `json:"date,omitempty"`
}

type richText struct {
	Type      string    `json:"type,omitempty"`
	Text      *textSpan `json:"text,omitempty"`
	PlainText string    `json:"plain_text,omitempty"`
}

type textSpan struct {
	Content string `json:"content"`
}

type selectValue struct {
	Name string `json:"name"`
}

type dateValue struct {
	Start string `json:"start"`
}

func titleProperty(s string) property {
	return property{Title: []richText{{Type: "text", Text: &textSpan{Content: s}}}}
}

func selectProperty(s string) property {
	return property{Select: &selectValue{Name: s}}
}

// buildProperties emits only the fields present in f, so an update never
// clears a field the caller did not mention.
func buildProperties(f Fields) map[string]property {
	props := map[string]property{}
	if f.Title != nil {
		props[propName] = titleProperty(*f.Title)
	}
	if f.Status != nil {
		props[propStatus] = selectProperty(*f.Status)
	}
	if f.Urgency != nil {
		props[propUrgency] = selectProperty(*f.Urgency)
	}
	if f.Importance != nil {
		props[propImportance] = selectProperty(*f.Importance)
	}
	if f.Category != nil {
		props[propCategory] = selectProperty(*f.Category)
	}
	if f.Due != nil {
		props[propDue] = property{Date: &dateValue{Start: *f.Due}}
	}
	if f.Tags != nil {
		var values []selectValue
		for _, tag := range *f.Tags {
			values = append(values, selectValue{Name: tag})
		}
		props[propTags] = property{MultiSelect: values}
	}
	if f.Product != nil {
		props[propProduct] = selectProperty(*f.Product)
	}
	return props
}

func plainText(rt []richText) string {
	var out string
	for _, r := range rt {
		if r.PlainText != "" {
			out += r.PlainText
		} else if r.Text != nil {
			out += r.Text.Content
		}
	}
	return out
}

func recordFromPage(p *pageObject) *Record {
	rec := &Record{
		ID:             p.ID,
		URL:            p.URL,
		CreatedTime:    p.CreatedTime,
		LastEditedTime: p.LastEditedTime,
	}
	for name, prop := range p.Properties {
		switch name {
		case propName:
			rec.Title = plainText(prop.Title)
		case propStatus:
			if prop.Select != nil {
				rec.Status = prop.Select.Name
			}
		case propUrgency:
			if prop.Select != nil {
				rec.Urgency = prop.Select.Name
			}
		case propImportance:
			if prop.Select != nil {
				rec.Importance = prop.Select.Name
			}
		case propCategory:
			if prop.Select != nil {
				rec.Category = prop.Select.Name
			}
		case propDue:
			if prop.Date != nil {
				rec.Due = prop.Date.Start
			}
		case propTags:
			for _, v := range prop.MultiSelect {
				rec.Tags = append(rec.Tags, v.Name)
			}
		case propProduct:
			if prop.Select != nil {
				rec.Product = prop.Select.Name
			}
		}
	}
	return rec
}

// filter builds the API filter object; nil means an unfiltered query.
func (q Query) filter() any {
	var conds []any

	if q.TitleContains != "" {
		conds = append(conds, map[string]any{
			"property": propName,
			"title":    map[string]any{"contains": q.TitleContains},
		})
	}

	statuses := q.Statuses
	if q.OpenOnly {
		statuses = OpenStatuses()
	}
	if len(statuses) == 1 {
		conds = append(conds, map[string]any{
			"property": propStatus,
			"select":   map[string]any{"equals": statuses[0]},
		})
	} else if len(statuses) > 1 {
		var or []any
		for _, s := range statuses {
			or = append(or, map[string]any{
				"property": propStatus,
				"select":   map[string]any{"equals": s},
			})
		}
		conds = append(conds, map[string]any{"or": or})
	}

	if q.DueOnOrAfter != "" {
		conds = append(conds, map[string]any{
			"property": propDue,
			"date":     map[string]any{"on_or_after": q.DueOnOrAfter},
		})
	}
	if q.DueOnOrBefore != "" {
		conds = append(conds, map[string]any{
			"property": propDue,
			"date":     map[string]any{"on_or_before": q.DueOnOrBefore},
		})
	}
	if !q.LastEditedBefore.IsZero() {
		conds = append(conds, map[string]any{
			"timestamp":        "last_edited_time",
			"last_edited_time": map[string]any{"before": q.LastEditedBefore.UTC().Format(time.RFC3339)},
		})
	}

	switch len(conds) {
	case 0:
		return nil
	case 1:
		return conds[0]
	default:
		return map[string]any{"and": conds}
	}
}

type blockObject struct {
	Type      string        `json:"type"`
	Paragraph *blockContent `json:"paragraph,omitempty"`
	Heading1  *blockContent `json:"heading_1,omitempty"`
	Heading2  *blockContent `json:"heading_2,omitempty"`
	Heading3  *blockContent `json:"heading_3,omitempty"`
	Bulleted  *blockContent `json:"bulleted_list_item,omitempty"`
	Divider   *struct{}     `json:"divider,omitempty"`
}

type blockContent struct {
	RichText []richText `json:"rich_text"`
}

func (b *blockObject) toBlock() (Block, bool) {
	switch b.Type {
	case BlockDivider:
		return Block{Type: BlockDivider}, true
	case BlockParagraph:
		return Block{Type: BlockParagraph, Text: contentText(b.Paragraph)}, true
	case BlockHeading1:
		return Block{Type: BlockHeading1, Text: contentText(b.Heading1)}, true
	case BlockHeading2:
		return Block{Type: BlockHeading2, Text: contentText(b.Heading2)}, true
	case BlockHeading3:
		return Block{Type: BlockHeading3, Text: contentText(b.Heading3)}, true
	case "bulleted_list_item":
		return Block{Type: BlockParagraph, Text: "- " + contentText(b.Bulleted)}, true
	default:
		return Block{}, false
	}
}

func contentText(c *blockContent) string {
	if c == nil {
		return ""
	}
	return plainText(c.RichText)
}

func blockToWire(b Block) (any, error) {
	switch b.Type {
	case BlockDivider:
		return map[string]any{
			"object":  "block",
			"type":    BlockDivider,
			"divider": map[string]any{},
		}, nil
	case BlockParagraph, BlockHeading1, BlockHeading2, BlockHeading3:
		return map[string]any{
			"object": "block",
			"type":   b.Type,
			b.Type: map[string]any{
				"rich_text": []any{map[string]any{
					"type": "text",
					"text": map[string]any{"content": b.Text},
				}},
			},
		}, nil
	default:
		return nil, NewStoreError(ErrCodeInvalidRequest, fmt.Sprintf("unsupported block type: %s", b.Type), nil)
	}
}
