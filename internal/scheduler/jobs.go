package scheduler

// Well-known job ids shared between the daemon wiring and the API's
// trigger endpoints.
const (
	JobScrape    = "scrape"
	JobPlaylists = "playlists"
	JobRetry     = "retry-pending"
	JobCleanup   = "cleanup"
	JobImport    = "import"
)
