package contextreg

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync/atomic"

	"github.com/rs/zerolog/log"

	"talkingrock/internal/model"
	"talkingrock/internal/pkg/tokens"
)

// Source describes one static context document
type Source struct {
	Name        string
	DisplayName string
	File        string // path relative to the context dir
	Domain      model.Domain
	Required    bool
	Priority    int // higher loads first
}

// DefaultSources is the registry of all context documents
var DefaultSources = []Source{
	// Professional domain
	{Name: "skills", DisplayName: "Skills", File: "professional/skills.md", Domain: model.DomainProfessional, Required: true, Priority: 10},
	{Name: "resume", DisplayName: "Resume", File: "professional/resume.md", Domain: model.DomainProfessional, Required: true, Priority: 8},
	{Name: "achievements", DisplayName: "Achievements", File: "professional/achievements.md", Domain: model.DomainProfessional, Priority: 3},

	// Projects domain
	{Name: "projects_overview", DisplayName: "Projects Overview", File: "projects/overview.md", Domain: model.DomainProjects, Required: true, Priority: 10},
	{Name: "portfolio_site", DisplayName: "Portfolio Site", File: "projects/portfolio.md", Domain: model.DomainProjects, Priority: 5},
	{Name: "chat_gateway", DisplayName: "Chat Gateway", File: "projects/chat_gateway.md", Domain: model.DomainProjects, Priority: 5},

	// Hobbies domain
	{Name: "first_robotics", DisplayName: "FIRST Robotics", File: "hobbies/first_robotics.md", Domain: model.DomainHobbies, Required: true, Priority: 10},
	{Name: "hobbies", DisplayName: "Hobbies & Interests", File: "hobbies/hobbies.md", Domain: model.DomainHobbies, Priority: 5},

	// Philosophy domain
	{Name: "problem_solving", DisplayName: "Problem Solving Ethos", File: "philosophy/professional_ethos.md", Domain: model.DomainPhilosophy, Required: true, Priority: 10},
	{Name: "values", DisplayName: "Professional Philosophy", File: "philosophy/professional_philosophy.md", Domain: model.DomainPhilosophy, Priority: 5},

	// Contact domain
	{Name: "contact", DisplayName: "Contact Info", File: "meta/contact.md", Domain: model.DomainContact, Required: true, Priority: 10},
	{Name: "resume_contact", DisplayName: "Resume", File: "professional/resume.md", Domain: model.DomainContact, Priority: 5},

	// Meta domain
	{Name: "about_chat", DisplayName: "About Chat", File: "meta/about_chat.md", Domain: model.DomainMeta, Required: true, Priority: 10},
	{Name: "portfolio_overview", DisplayName: "Portfolio Overview", File: "meta/portfolio.md", Domain: model.DomainMeta, Priority: 5},
}

// Content below this length is likely a stub
const minUsefulContextLength = 200

var placeholderPatterns = []string{
	"placeholder",
	"todo:",
	"coming soon",
	"to be added",
	"[insert",
	"lorem ipsum",
	"example content",
}

// Result of a retrieval
type Result struct {
	Context        string
	SourcesLoaded  []string
	SourcesMissing []string
	TotalLength    int
	IsPlaceholder  bool
	Quality        float64 // 0.0-1.0
}

type document struct {
	source  Source
	content string
	tokens  int
}

type snapshot struct {
	byDomain map[model.Domain][]document
}

// Registry serves static per-domain context. Documents are loaded once at
// start; Reload builds a fresh snapshot and swaps it atomically, so readers
// see either the old or the new registry, never a partial one.
type Registry struct {
	dir       string
	maxTokens int
	sources   []Source
	est       *tokens.Estimator

	snap atomic.Pointer[snapshot]
}

// New loads the registry from dir
func New(dir string, maxTokens int, est *tokens.Estimator) (*Registry, error) {
	return NewWithSources(dir, maxTokens, est, DefaultSources)
}

// NewWithSources loads the registry with a custom source table
func NewWithSources(dir string, maxTokens int, est *tokens.Estimator, sources []Source) (*Registry, error) {
	r := &Registry{
		dir:       dir,
		maxTokens: maxTokens,
		sources:   sources,
		est:       est,
	}
	if err := r.Reload(); err != nil {
		return nil, err
	}
	return r, nil
}

// Reload rebuilds the whole registry and swaps it in atomically
func (r *Registry) Reload() error {
	snap := &snapshot{byDomain: make(map[model.Domain][]document)}

	loaded := 0
	for _, src := range r.sources {
		content, err := r.loadFile(src)
		if err != nil {
			log.Debug().Str("source", src.Name).Str("file", src.File).Msg("context file not found")
			// Missing files are recorded at retrieval time; the source
			// stays in the table so Retrieve can report it.
			snap.byDomain[src.Domain] = append(snap.byDomain[src.Domain], document{source: src})
			continue
		}
		snap.byDomain[src.Domain] = append(snap.byDomain[src.Domain], document{
			source:  src,
			content: content,
			tokens:  r.est.Count(content),
		})
		loaded++
	}

	// Required first, then by descending priority
	for domain := range snap.byDomain {
		docs := snap.byDomain[domain]
		sort.SliceStable(docs, func(i, j int) bool {
			if docs[i].source.Required != docs[j].source.Required {
				return docs[i].source.Required
			}
			return docs[i].source.Priority > docs[j].source.Priority
		})
	}

	r.snap.Store(snap)
	log.Info().Int("sources_loaded", loaded).Int("sources_total", len(r.sources)).Msg("context registry loaded")
	return nil
}

// Retrieve assembles the context blob for a domain. OUT_OF_SCOPE yields an
// empty result. The blob is bounded by the configured token budget; whole
// documents are dropped rather than split, except the first, which is
// truncated to fit.
func (r *Registry) Retrieve(domain model.Domain) Result {
	if domain == model.DomainOutOfScope {
		return Result{}
	}

	snap := r.snap.Load()
	docs := snap.byDomain[domain]

	var parts []string
	var loaded, missing []string
	budget := r.maxTokens

	for _, doc := range docs {
		if doc.content == "" {
			missing = append(missing, doc.source.Name)
			continue
		}
		if budget <= 0 {
			break
		}

		content := doc.content
		cost := doc.tokens
		if cost > budget {
			if len(loaded) > 0 {
				// a later document that does not fit is dropped whole
				continue
			}
			content = truncateToTokens(content, budget, r.est) + "\n[Content truncated]"
			cost = budget
		}

		parts = append(parts, fmt.Sprintf("## %s\n\n%s", doc.source.DisplayName, content))
		loaded = append(loaded, doc.source.Name)
		budget -= cost
	}

	context := strings.Join(parts, "\n\n---\n\n")
	hasPlaceholder := isPlaceholderContent(context)

	return Result{
		Context:        context,
		SourcesLoaded:  loaded,
		SourcesMissing: missing,
		TotalLength:    len(context),
		IsPlaceholder:  hasPlaceholder,
		Quality:        contextQuality(context, len(loaded), len(missing), hasPlaceholder),
	}
}

func (r *Registry) loadFile(src Source) (string, error) {
	data, err := os.ReadFile(filepath.Join(r.dir, filepath.FromSlash(src.File)))
	if err != nil {
		return "", err
	}
	content := strings.TrimSpace(string(data))
	if content == "" {
		return "", fmt.Errorf("empty context file: %s", src.File)
	}
	return content, nil
}

func isPlaceholderContent(content string) bool {
	lower := strings.ToLower(content)
	for _, pattern := range placeholderPatterns {
		if strings.Contains(lower, pattern) {
			return true
		}
	}
	return false
}

// contextQuality scores retrieved context: length on a log scale weighted
// against source completeness, floored for placeholder content.
func contextQuality(context string, loaded, missing int, hasPlaceholder bool) float64 {
	if len(context) < minUsefulContextLength {
		return 0.0
	}
	if hasPlaceholder {
		return 0.2
	}

	lengthScore := math.Min(1.0, math.Log10(float64(len(context)+1))/4)

	completeness := 0.0
	if total := loaded + missing; total > 0 {
		completeness = float64(loaded) / float64(total)
	}

	return math.Round((lengthScore*0.6+completeness*0.4)*100) / 100
}

// truncateToTokens cuts content down to roughly maxTokens, on a line
// boundary where possible
func truncateToTokens(content string, maxTokens int, est *tokens.Estimator) string {
	if est.Count(content) <= maxTokens {
		return content
	}

	lines := strings.Split(content, "\n")
	var out []string
	used := 0
	for _, line := range lines {
		cost := est.Count(line)
		if used+cost > maxTokens {
			break
		}
		out = append(out, line)
		used += cost
	}
	if len(out) == 0 && len(lines) > 0 {
		// single oversized line; hard cut by characters
		limit := maxTokens * 4
		if limit < len(lines[0]) {
			return lines[0][:limit]
		}
		return lines[0]
	}
	return strings.Join(out, "\n")
}
