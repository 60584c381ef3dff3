package providers

import (
	"fmt"
	"strings"

	"github.com/citategenie/resolution-service/internal/domain"
)

// extractionSystemPrompt instructs the model to return only the JSON
// object. Both AI adapters share it so their outputs stay comparable.
const extractionSystemPrompt = `You are a bibliographic data extractor. Given a citation fragment from an academic document, identify the work it refers to and return its bibliographic data.

Respond with a single JSON object and nothing else, using exactly these keys:
{
  "type": "journal|book|chapter|newspaper|website|unknown",
  "title": "full title of the work",
  "authors": ["surname of each author, in citation order"],
  "year": "four-digit publication year",
  "journal": "journal or container title, or empty string",
  "volume": "", "issue": "", "pages": "",
  "publisher": "", "doi": "", "url": ""
}

Use an empty string for any field you cannot determine. Never invent a DOI. If you cannot identify the work at all, return {"title": ""}.`

// BuildExtractionPrompt renders the system and user prompts for AI-based
// citation extraction from a request's raw text and hints.
func BuildExtractionPrompt(req *domain.CitationRequest) (system, user string) {
	var b strings.Builder
	fmt.Fprintf(&b, "Citation fragment:\n%s\n", strings.TrimSpace(req.RawText))
	if req.Hints.Author != "" {
		fmt.Fprintf(&b, "\nKnown first author surname: %s\n", req.Hints.Author)
	}
	if req.Hints.Year != "" {
		fmt.Fprintf(&b, "Known publication year: %s\n", req.Hints.Year)
	}
	if req.Hints.DOI != "" {
		fmt.Fprintf(&b, "Known DOI: %s\n", req.Hints.DOI)
	}
	if req.Hints.URL != "" {
		fmt.Fprintf(&b, "Source URL: %s\n", req.Hints.URL)
	}
	return extractionSystemPrompt, b.String()
}

// ExtractedCitation is the JSON shape both AI adapters ask the model to
// produce.
type ExtractedCitation struct {
	Type      string   `json:"type"`
	Title     string   `json:"title"`
	Authors   []string `json:"authors"`
	Year      string   `json:"year"`
	Journal   string   `json:"journal"`
	Volume    string   `json:"volume"`
	Issue     string   `json:"issue"`
	Pages     string   `json:"pages"`
	Publisher string   `json:"publisher"`
	DOI       string   `json:"doi"`
	URL       string   `json:"url"`
}

// Record converts the extracted fields into the uniform Record shape.
// AI extraction reads the fragment itself rather than matching against a
// bibliographic index, so its confidence sits below the search providers.
func (e *ExtractedCitation) Record(provider string) *domain.Record {
	authors := make([]string, 0, len(e.Authors))
	for _, a := range e.Authors {
		if s := strings.TrimSpace(a); s != "" {
			authors = append(authors, s)
		}
	}

	return &domain.Record{
		CitationType: extractedType(e.Type),
		Title:        strings.TrimSpace(e.Title),
		Authors:      authors,
		Year:         strings.TrimSpace(e.Year),
		Journal:      strings.TrimSpace(e.Journal),
		Volume:       strings.TrimSpace(e.Volume),
		Issue:        strings.TrimSpace(e.Issue),
		Pages:        strings.TrimSpace(e.Pages),
		Publisher:    strings.TrimSpace(e.Publisher),
		DOI:          strings.ToLower(strings.TrimSpace(e.DOI)),
		URL:          strings.TrimSpace(e.URL),
		Confidence:   0.6,
		Provenance:   provider,
	}
}

// extractedType maps the model's type string onto the citation taxonomy.
func extractedType(t string) domain.CitationType {
	switch strings.ToLower(strings.TrimSpace(t)) {
	case "journal":
		return domain.CitationTypeJournal
	case "book":
		return domain.CitationTypeBook
	case "chapter":
		return domain.CitationTypeChapter
	case "newspaper":
		return domain.CitationTypeNewspaper
	case "website":
		return domain.CitationTypeWebsite
	default:
		return domain.CitationTypeUnknown
	}
}

// TokenCost computes the USD cost of one LLM call from its token usage and
// the provider's per-million-token prices.
func TokenCost(inputTokens, outputTokens int, inputPerMTok, outputPerMTok float64) float64 {
	return float64(inputTokens)/1e6*inputPerMTok + float64(outputTokens)/1e6*outputPerMTok
}
