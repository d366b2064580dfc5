package project

import (
	"encoding/json"
	"fmt"

	"github.com/ShayCichocki/foundry/pkg/models"
)

// Document is the persisted form of a project.
type Document struct {
	Tasks         []*models.Task                       `json:"tasks"`
	Drafts        map[string]*models.Draft             `json:"drafts"`
	GateResults   map[models.GateKey]models.GateResult `json:"gate_results"`
	AuditLog      []models.AuditEntry                  `json:"audit_log"`
	Progress      map[string]*models.TaskProgress      `json:"progress,omitempty"`
	Phase         models.Phase                         `json:"phase"`
	BlockedReason *string                              `json:"blocked_reason"`
	AuditContext  string                               `json:"audit_context,omitempty"`
}

// Snapshot returns a deep copy of the project as a Document.
func (p *Project) Snapshot() *Document {
	var doc *Document
	p.View(func(s *State) { doc = s.snapshot() })
	return doc
}

func (s *State) snapshot() *Document {
	doc := &Document{
		Tasks:        make([]*models.Task, 0, len(s.order)),
		Drafts:       make(map[string]*models.Draft, len(s.drafts)),
		GateResults:  make(map[models.GateKey]models.GateResult, len(s.gateResults)),
		AuditLog:     append([]models.AuditEntry{}, s.audit...),
		Progress:     make(map[string]*models.TaskProgress, len(s.progress)),
		Phase:        s.phase,
		AuditContext: s.auditContext,
	}
	for _, id := range s.order {
		doc.Tasks = append(doc.Tasks, s.tasks[id].Clone())
	}
	for id, d := range s.drafts {
		doc.Drafts[id] = d.Clone()
	}
	for k, r := range s.gateResults {
		doc.GateResults[k] = r
	}
	for id, pr := range s.progress {
		c := *pr
		c.Feedback = append([]string(nil), pr.Feedback...)
		doc.Progress[id] = &c
	}
	if s.blockedReason != nil {
		reason := *s.blockedReason
		doc.BlockedReason = &reason
	}
	return doc
}

// FromDocument rebuilds a project from a persisted Document.
func FromDocument(doc *Document) (*Project, error) {
	if doc == nil {
		return nil, fmt.Errorf("nil project document")
	}
	s := newState()
	for _, t := range doc.Tasks {
		if t == nil || t.ID == "" {
			return nil, fmt.Errorf("project document contains a task without an id")
		}
		if s.Has(t.ID) {
			return nil, fmt.Errorf("project document contains duplicate task %s", t.ID)
		}
		s.Put(t.Clone())
	}
	for id, d := range doc.Drafts {
		s.drafts[id] = d.Clone()
	}
	for k, r := range doc.GateResults {
		s.gateResults[k] = r
	}
	for id, pr := range doc.Progress {
		c := *pr
		s.progress[id] = &c
	}
	s.audit = append(s.audit, doc.AuditLog...)
	if doc.Phase != "" {
		if !doc.Phase.Valid() {
			return nil, fmt.Errorf("unknown phase %q", doc.Phase)
		}
		s.phase = doc.Phase
	}
	if doc.BlockedReason != nil {
		s.Block(*doc.BlockedReason)
	}
	s.auditContext = doc.AuditContext
	return &Project{state: s}, nil
}

// MarshalJSON serializes the project snapshot.
func (p *Project) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.Snapshot())
}

// Unmarshal decodes a JSON document into a project.
func Unmarshal(data []byte) (*Project, error) {
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode project document: %w", err)
	}
	return FromDocument(&doc)
}
