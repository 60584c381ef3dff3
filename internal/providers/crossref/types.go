package crossref

// worksResponse is the envelope returned by the CrossRef works endpoint.
type worksResponse struct {
	Status  string `json:"status"`
	Message struct {
		Items []work `json:"items"`
	} `json:"message"`
}

// workResponse is the envelope returned by a direct /works/{doi} lookup.
type workResponse struct {
	Status  string `json:"status"`
	Message work   `json:"message"`
}

// work is one bibliographic item in a CrossRef response.
type work struct {
	Title          []string  `json:"title"`
	Author         []author  `json:"author"`
	Issued         dateParts `json:"issued"`
	ContainerTitle []string  `json:"container-title"`
	Volume         string    `json:"volume"`
	Issue          string    `json:"issue"`
	Page           string    `json:"page"`
	Publisher      string    `json:"publisher"`
	DOI            string    `json:"DOI"`
	URL            string    `json:"URL"`
	Type           string    `json:"type"`
	Score          float64   `json:"score"`
}

// author is one contributor entry.
type author struct {
	Family string `json:"family"`
	Given  string `json:"given"`
}

// dateParts is CrossRef's nested date representation: [[year, month, day]].
type dateParts struct {
	DateParts [][]int `json:"date-parts"`
}

// year returns the year component, or 0 when absent.
func (d dateParts) year() int {
	if len(d.DateParts) == 0 || len(d.DateParts[0]) == 0 {
		return 0
	}
	return d.DateParts[0][0]
}
