package config

// Constants defining default values for application configuration
const (
	DefaultPagesCSVPath = "./pages.csv"
	DefaultDBPath       = "./fbposts.db"

	DefaultServerPort = 8080
	DefaultServerHost = "" // Empty string means all interfaces

	DefaultWorkerCount   = 0 // 0 means use runtime.NumCPU()
	DefaultInterval      = 0 // Minutes between harvest runs, 0 for one-shot
	DefaultPostsPerPage  = 5 // Posts stored per page per run
	DefaultTimelinePages = 2 // Timeline HTML pages fetched per page

	DefaultOpenAIModel = "gpt-3.5-turbo"

	DefaultLogLevel = "debug"
)
