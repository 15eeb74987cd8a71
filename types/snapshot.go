package types

import (
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
)

// PageSnapshot is one recorded observation of a web page at a point in time.
// A snapshot is immutable after creation except for the per-element
// interaction annotations, which the feedback path mutates through the store.
type PageSnapshot struct {
	ID            string         `json:"id"`
	URL           string         `json:"url"`
	Domain        string         `json:"domain"`
	Timestamp     time.Time      `json:"timestamp"`
	TaskContext   string         `json:"task_context,omitempty"`
	Structure     PageStructure  `json:"structure"`
	ActionHistory []ActionRecord `json:"action_history,omitempty"`
}

// NewPageSnapshot creates a snapshot with a generated ID, a derived domain
// and the current timestamp. The caller fills in Structure and ActionHistory.
func NewPageSnapshot(rawURL, taskContext string) *PageSnapshot {
	return &PageSnapshot{
		ID:          uuid.NewString(),
		URL:         rawURL,
		Domain:      DomainOf(rawURL),
		Timestamp:   time.Now().UTC(),
		TaskContext: taskContext,
	}
}

// DomainOf extracts the host part of a URL. It returns "unknown" when the
// URL cannot be parsed or carries no host, matching the metadata the
// retrieval filters operate on.
func DomainOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return "unknown"
	}
	return strings.ToLower(u.Host)
}

// PageStructure is the semantic structure extracted from a page by the
// browser-side collaborator. It is an explicit tagged record rather than an
// open metadata bag so the chunker's category grouping stays exhaustive.
type PageStructure struct {
	Title      string               `json:"title,omitempty"`
	Elements   []InteractiveElement `json:"elements,omitempty"`
	Forms      []Form               `json:"forms,omitempty"`
	Navigation []string             `json:"navigation,omitempty"`
	Sections   []ContentSection     `json:"sections,omitempty"`
	Popups     []Popup              `json:"popups,omitempty"`
}

// Empty reports whether the structure carries nothing the chunker can use.
func (s PageStructure) Empty() bool {
	return s.Title == "" &&
		len(s.Elements) == 0 &&
		len(s.Forms) == 0 &&
		len(s.Navigation) == 0 &&
		len(s.Sections) == 0 &&
		len(s.Popups) == 0
}

// InteractiveElement is a clickable or fillable element observed on a page.
// InteractedSuccessfully is nil until the feedback path records an outcome;
// Outcomes keeps one event per recorded attempt, never deduplicated.
type InteractiveElement struct {
	Selector               string            `json:"selector"`
	ElementType            string            `json:"element_type"`
	Label                  string            `json:"label,omitempty"`
	Href                   string            `json:"href,omitempty"`
	Attributes             map[string]string `json:"attributes,omitempty"`
	InteractedSuccessfully *bool             `json:"interacted_successfully,omitempty"`
	Outcomes               []OutcomeEvent    `json:"outcomes,omitempty"`
}

// OutcomeEvent is one recorded interaction attempt against an element.
type OutcomeEvent struct {
	Success bool      `json:"success"`
	At      time.Time `json:"at"`
}

// Form describes a form and its field list. Forms are chunked as one atomic
// unit: the field list is never split from the form id.
type Form struct {
	ID     string      `json:"id"`
	Action string      `json:"action,omitempty"`
	Fields []FormField `json:"fields,omitempty"`
}

// FormField is a single input within a form.
type FormField struct {
	Name string `json:"name"`
	Type string `json:"type,omitempty"`
}

// ContentSection is a short summary of a content region of the page.
type ContentSection struct {
	Kind    string `json:"kind"`
	Class   string `json:"class,omitempty"`
	Preview string `json:"preview,omitempty"`
}

// Popup describes a detected overlay (cookie banner, auth modal, newsletter
// prompt) together with its close affordance when one was found.
type Popup struct {
	Kind        string       `json:"kind"`
	Role        string       `json:"role,omitempty"`
	Class       string       `json:"class,omitempty"`
	ID          string       `json:"id,omitempty"`
	CloseButton *PopupButton `json:"close_button,omitempty"`
}

// PopupButton is a button that dismisses or acknowledges a popup.
type PopupButton struct {
	Selector  string `json:"selector,omitempty"`
	Text      string `json:"text,omitempty"`
	AriaLabel string `json:"aria_label,omitempty"`
	Tag       string `json:"tag,omitempty"`
}

// ActionRecord is one entry of a snapshot's interaction history, as reported
// by the browser driver at capture time.
type ActionRecord struct {
	Action   string `json:"action"`
	Selector string `json:"selector,omitempty"`
	Value    string `json:"value,omitempty"`
	Success  bool   `json:"success"`
}

// Clone returns a deep copy of the snapshot. Stores hand out clones so
// callers can never mutate stored state behind the annotation path.
func (p *PageSnapshot) Clone() *PageSnapshot {
	if p == nil {
		return nil
	}
	out := *p
	out.Structure = p.Structure.clone()
	if p.ActionHistory != nil {
		out.ActionHistory = append([]ActionRecord(nil), p.ActionHistory...)
	}
	return &out
}

func (s PageStructure) clone() PageStructure {
	out := s
	if s.Elements != nil {
		out.Elements = make([]InteractiveElement, len(s.Elements))
		for i, el := range s.Elements {
			out.Elements[i] = el.clone()
		}
	}
	if s.Forms != nil {
		out.Forms = make([]Form, len(s.Forms))
		for i, f := range s.Forms {
			out.Forms[i] = f
			if f.Fields != nil {
				out.Forms[i].Fields = append([]FormField(nil), f.Fields...)
			}
		}
	}
	if s.Navigation != nil {
		out.Navigation = append([]string(nil), s.Navigation...)
	}
	if s.Sections != nil {
		out.Sections = append([]ContentSection(nil), s.Sections...)
	}
	if s.Popups != nil {
		out.Popups = make([]Popup, len(s.Popups))
		for i, pp := range s.Popups {
			out.Popups[i] = pp
			if pp.CloseButton != nil {
				btn := *pp.CloseButton
				out.Popups[i].CloseButton = &btn
			}
		}
	}
	return out
}

func (e InteractiveElement) clone() InteractiveElement {
	out := e
	if e.Attributes != nil {
		out.Attributes = make(map[string]string, len(e.Attributes))
		for k, v := range e.Attributes {
			out.Attributes[k] = v
		}
	}
	if e.InteractedSuccessfully != nil {
		v := *e.InteractedSuccessfully
		out.InteractedSuccessfully = &v
	}
	if e.Outcomes != nil {
		out.Outcomes = append([]OutcomeEvent(nil), e.Outcomes...)
	}
	return out
}
