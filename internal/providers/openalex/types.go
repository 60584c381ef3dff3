package openalex

// searchResponse is the envelope returned by the OpenAlex works endpoint.
type searchResponse struct {
	Meta struct {
		Count int `json:"count"`
	} `json:"meta"`
	Results []work `json:"results"`
}

// work is one OpenAlex work entry, reduced to the fields the resolver uses.
type work struct {
	ID              string       `json:"id"`
	DOI             string       `json:"doi"`
	DisplayName     string       `json:"display_name"`
	Title           string       `json:"title"`
	PublicationYear int          `json:"publication_year"`
	Type            string       `json:"type"`
	Authorships     []authorship `json:"authorships"`
	PrimaryLocation *location    `json:"primary_location"`
	Biblio          biblio       `json:"biblio"`
}

type authorship struct {
	Author struct {
		DisplayName string `json:"display_name"`
	} `json:"author"`
}

type location struct {
	LandingPageURL string `json:"landing_page_url"`
	Source         *struct {
		DisplayName string `json:"display_name"`
		Publisher   string `json:"host_organization_name"`
	} `json:"source"`
}

type biblio struct {
	Volume    string `json:"volume"`
	Issue     string `json:"issue"`
	FirstPage string `json:"first_page"`
	LastPage  string `json:"last_page"`
}
