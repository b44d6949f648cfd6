package domain

import "time"

// Language selects the instruction template sent to the analysis model.
type Language string

const (
	LanguageZH Language = "zh"
	LanguageEN Language = "en"
)

// OutputFormat controls how verbose the generated prompt should be.
type OutputFormat string

const (
	OutputDetailed OutputFormat = "detailed"
	OutputConcise  OutputFormat = "concise"
)

// ImageIntake is the transient representation of a user-supplied image for
// the duration of one analysis attempt. Exactly one of Data or SourceURL is
// meaningful: file-sourced intakes carry the bytes, URL-sourced intakes carry
// the remote URL. Size is authoritative only for file-sourced intakes.
type ImageIntake struct {
	ID         string    `json:"id"`
	Data       []byte    `json:"-"`
	PreviewKey string    `json:"previewKey,omitempty"`
	FileName   string    `json:"fileName"`
	Size       int64     `json:"size"`
	MimeType   string    `json:"mimeType"`
	CapturedAt time.Time `json:"capturedAt"`
	HostedURL  string    `json:"hostedUrl,omitempty"`
	SourceURL  string    `json:"sourceUrl,omitempty"`
	FromURL    bool      `json:"fromUrl"`
}

// AnalysisRecord is a durable entry pairing a generated prompt with its
// source image metadata.
type AnalysisRecord struct {
	ID        string    `json:"id"`
	ImageName string    `json:"imageName"`
	ImageURL  string    `json:"imageUrl,omitempty"`
	Prompt    string    `json:"prompt"`
	CreatedAt time.Time `json:"createdAt"`
}

// Credentials holds the remote service keys. An empty OpenRouterKey blocks
// analysis; an empty ImgBBKey means hosting is skipped and the raw image is
// passed to analysis instead.
type Credentials struct {
	OpenRouterKey string `json:"openRouterKey"`
	ImgBBKey      string `json:"imgbbKey,omitempty"`
}

// Preferences are the durable user settings.
type Preferences struct {
	Language        Language     `json:"language"`
	OutputFormat    OutputFormat `json:"outputFormat"`
	AutoSave        bool         `json:"autoSave"`
	MaxHistoryItems int          `json:"maxHistoryItems"`
}

const DefaultMaxHistoryItems = 1000

// DefaultPreferences are substituted whenever the stored settings row is
// missing or unreadable.
func DefaultPreferences() Preferences {
	return Preferences{
		Language:        LanguageZH,
		OutputFormat:    OutputDetailed,
		AutoSave:        true,
		MaxHistoryItems: DefaultMaxHistoryItems,
	}
}

// StorageStats summarizes the stored record collection.
type StorageStats struct {
	Count     int       `json:"count"`
	TotalSize int64     `json:"totalSize"`
	HumanSize string    `json:"humanSize"`
	Oldest    time.Time `json:"oldest"`
	Newest    time.Time `json:"newest"`
}
