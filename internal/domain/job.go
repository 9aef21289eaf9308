package domain

import (
	"bytes"
	"time"
)

// JobStatus enumerates job lifecycle states.
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusScraping   JobStatus = "scraping"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
	JobStatusCancelled  JobStatus = "cancelled"
)

// stage orders the non-cancelled statuses; transitions never move backwards.
var stage = map[JobStatus]int{
	JobStatusPending:    0,
	JobStatusScraping:   1,
	JobStatusProcessing: 2,
	JobStatusCompleted:  3,
	JobStatusFailed:     3,
}

// IsTerminal reports whether no further stage transitions are expected.
func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	default:
		return false
	}
}

// Valid reports whether s is a known status.
func (s JobStatus) Valid() bool {
	_, ok := stage[s]
	return ok || s == JobStatusCancelled
}

// CanTransition reports whether a job may move from one status to another.
// Staying in the same non-terminal status is allowed so intra-stage progress
// can be persisted.
func CanTransition(from, to JobStatus) bool {
	if !from.Valid() || !to.Valid() || from.IsTerminal() {
		return false
	}
	if to == JobStatusCancelled {
		return true
	}
	return stage[to] >= stage[from]
}

// Progress holds aggregate counters for a job.
type Progress struct {
	Total     int `json:"total"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
}

// Valid checks the completed+failed <= total invariant.
func (p Progress) Valid() bool {
	return p.Total >= 0 && p.Completed >= 0 && p.Failed >= 0 && p.Completed+p.Failed <= p.Total
}

// PhotoStatus enumerates per-photo processing states.
type PhotoStatus string

const (
	PhotoStatusPending    PhotoStatus = "pending"
	PhotoStatusAnalyzing  PhotoStatus = "analyzing"
	PhotoStatusOptimizing PhotoStatus = "optimizing"
	PhotoStatusCompleted  PhotoStatus = "completed"
	PhotoStatusFailed     PhotoStatus = "failed"
)

// Photo is the per-image state tracked inside a job. Data and OptimizedData
// are serialized as base64.
type Photo struct {
	ID            string `json:"id"`
	URL           string `json:"url"`
	Data          []byte `json:"data,omitempty"`
	OptimizedData []byte `json:"optimizedData,omitempty"`
	MIMEType      string `json:"mimeType,omitempty"`
	// OptimizedMIMEType may differ from MIMEType when the generator re-encodes.
	OptimizedMIMEType string      `json:"optimizedMimeType,omitempty"`
	FileName          string      `json:"fileName"`
	Status            PhotoStatus `json:"status"`
	Error             string      `json:"error,omitempty"`
	Analysis          *Analysis   `json:"analysis,omitempty"`
	StyleReference    bool        `json:"styleReference,omitempty"`
}

// Clone returns a deep copy of the photo.
func (p Photo) Clone() Photo {
	out := p
	out.Data = bytes.Clone(p.Data)
	out.OptimizedData = bytes.Clone(p.OptimizedData)
	if p.Analysis != nil {
		a := p.Analysis.Clone()
		out.Analysis = &a
	}
	return out
}

// ImagePair associates an original photo with its optimized derivative.
type ImagePair struct {
	ID           string      `json:"id"`
	Original     Photo       `json:"original"`
	Optimized    *Photo      `json:"optimized,omitempty"`
	RoomType     RoomType    `json:"roomType"`
	Enhancements []string    `json:"enhancements"`
	Status       PhotoStatus `json:"status"`
}

// Clone returns a deep copy of the pair.
func (p ImagePair) Clone() ImagePair {
	out := p
	out.Original = p.Original.Clone()
	if p.Optimized != nil {
		o := p.Optimized.Clone()
		out.Optimized = &o
	}
	out.Enhancements = append([]string(nil), p.Enhancements...)
	return out
}

// ListingMetadata is the listing-level information returned by the scraper.
type ListingMetadata struct {
	Title        string `json:"title,omitempty"`
	PropertyType string `json:"propertyType,omitempty"`
	RoomType     string `json:"roomType,omitempty"`
	PhotoCount   int    `json:"photoCount,omitempty"`
}

// Job is one end-to-end optimization run for a single listing URL.
type Job struct {
	ID           string          `json:"id"`
	URL          string          `json:"url"`
	Status       JobStatus       `json:"status"`
	MaxImages    int             `json:"maxImages"`
	Images       []Photo         `json:"images"`
	ImagePairs   []ImagePair     `json:"imagePairs"`
	Progress     Progress        `json:"progress"`
	Listing      ListingMetadata `json:"listing"`
	RoomTypeHint RoomType        `json:"roomTypeHint,omitempty"`
	Error        string          `json:"error,omitempty"`
	CreatedAt    time.Time       `json:"createdAt"`
	UpdatedAt    time.Time       `json:"updatedAt"`
	CompletedAt  *time.Time      `json:"completedAt,omitempty"`
}

// Clone returns a deep copy so callers never alias stored state.
func (j *Job) Clone() *Job {
	if j == nil {
		return nil
	}
	out := *j
	if j.Images != nil {
		out.Images = make([]Photo, len(j.Images))
		for i, p := range j.Images {
			out.Images[i] = p.Clone()
		}
	}
	if j.ImagePairs != nil {
		out.ImagePairs = make([]ImagePair, len(j.ImagePairs))
		for i, p := range j.ImagePairs {
			out.ImagePairs[i] = p.Clone()
		}
	}
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		out.CompletedAt = &t
	}
	return &out
}

// Photo returns the photo with the given id from the job's image list.
func (j *Job) Photo(id string) (Photo, bool) {
	for _, p := range j.Images {
		if p.ID == id {
			return p, true
		}
	}
	return Photo{}, false
}

// Pair returns the image pair for the given original photo id.
func (j *Job) Pair(photoID string) (ImagePair, bool) {
	for _, p := range j.ImagePairs {
		if p.Original.ID == photoID {
			return p, true
		}
	}
	return ImagePair{}, false
}
