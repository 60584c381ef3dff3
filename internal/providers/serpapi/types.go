package serpapi

// searchResponse is the SerpAPI Google Scholar envelope, reduced to the
// fields the resolver uses.
type searchResponse struct {
	SearchMetadata struct {
		Status string `json:"status"`
	} `json:"search_metadata"`
	OrganicResults []organicResult `json:"organic_results"`
}

// organicResult is one scholar search hit.
type organicResult struct {
	Title           string `json:"title"`
	Link            string `json:"link"`
	PublicationInfo struct {
		// Summary is a display string like
		// "JA Endler - Evolutionary biology, 1978 - Springer".
		Summary string `json:"summary"`
		Authors []struct {
			Name string `json:"name"`
		} `json:"authors"`
	} `json:"publication_info"`
}
