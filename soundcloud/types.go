package soundcloud

import (
	"time"
)

const (
	SharingPublic  = "public"
	SharingPrivate = "private"

	ProtocolProgressive = "progressive"
	ProtocolHLS         = "hls"
)

type Track struct {
	ID                 int64      `json:"id"`
	Title              string     `json:"title"`
	CreatedAt          string     `json:"created_at"`
	PermalinkURL       string     `json:"permalink_url"`
	Description        string     `json:"description"`
	Genre              string     `json:"genre"`
	TagList            string     `json:"tag_list"`
	ArtworkURL         string     `json:"artwork_url"`
	User               *TrackUser `json:"user"`
	Sharing            string     `json:"sharing"`
	TrackAuthorization string     `json:"track_authorization"`
	Media              *Media     `json:"media"`
	Duration           int64      `json:"duration"`
}

// Public reports whether the track may be exposed to consumers. Tracks
// without a sharing field are treated as public, matching upstream behavior
// for accounts that predate the field.
func (t *Track) Public() bool {
	return t.Sharing == "" || t.Sharing == SharingPublic
}

// Merge overlays detail-record fields onto a listing record. Listing
// endpoints omit media transcodings and sometimes the track authorization,
// so a detail fetch fills those in.
func (t *Track) Merge(detail *Track) Track {
	merged := *detail
	if merged.ID == 0 {
		merged.ID = t.ID
	}
	if merged.Title == "" {
		merged.Title = t.Title
	}
	if merged.CreatedAt == "" {
		merged.CreatedAt = t.CreatedAt
	}
	if merged.PermalinkURL == "" {
		merged.PermalinkURL = t.PermalinkURL
	}
	if merged.Description == "" {
		merged.Description = t.Description
	}
	if merged.Genre == "" {
		merged.Genre = t.Genre
	}
	if merged.TagList == "" {
		merged.TagList = t.TagList
	}
	if merged.ArtworkURL == "" {
		merged.ArtworkURL = t.ArtworkURL
	}
	if merged.Sharing == "" {
		merged.Sharing = t.Sharing
	}
	if merged.Media == nil {
		merged.Media = t.Media
	}
	if merged.TrackAuthorization == "" {
		merged.TrackAuthorization = t.TrackAuthorization
	}
	if merged.User == nil {
		merged.User = t.User
	}

	return merged
}

type TrackUser struct {
	AvatarURL string `json:"avatar_url"`
}

type Media struct {
	Transcodings []Transcoding `json:"transcodings"`
}

type Transcoding struct {
	URL    string            `json:"url"`
	Format TranscodingFormat `json:"format"`
}

type TranscodingFormat struct {
	Protocol string `json:"protocol"`
	MimeType string `json:"mime_type"`
}

type Playlist struct {
	ID           int64   `json:"id"`
	Title        string  `json:"title"`
	PermalinkURL string  `json:"permalink_url"`
	Description  string  `json:"description"`
	ArtworkURL   string  `json:"artwork_url"`
	CreatedAt    string  `json:"created_at"`
	LastModified string  `json:"last_modified"`
	TrackCount   int     `json:"track_count"`
	Genre        string  `json:"genre"`
	TagList      string  `json:"tag_list"`
	Tracks       []Track `json:"tracks"`
}

type TracksPage struct {
	Collection []Track `json:"collection"`
	NextHref   string  `json:"next_href"`
}

type PlaylistsPage struct {
	Collection []Playlist `json:"collection"`
	NextHref   string     `json:"next_href"`
}

// Streams is the protocol-keyed URL map of the streams endpoint.
type Streams struct {
	Access string
	urls   map[string]string
}

func NewStreams(access string, urls map[string]string) Streams {
	return Streams{Access: access, urls: urls}
}

func (s Streams) URL(key string) string {
	return s.urls[key]
}

// Playable reports whether the upstream permits API streaming of the track.
// A missing access field means unrestricted.
func (s Streams) Playable() bool {
	return s.Access == "" || s.Access == "playable"
}

// Progressive URLs beat HLS, higher bitrates beat lower.
var streamPreference = []struct {
	key      string
	protocol string
}{
	{"http_mp3_320_url", ProtocolProgressive},
	{"http_mp3_192_url", ProtocolProgressive},
	{"http_mp3_128_url", ProtocolProgressive},
	{"http_mp3_64_url", ProtocolProgressive},
	{"http_mp3_32_url", ProtocolProgressive},
	{"hls_mp3_320_url", ProtocolHLS},
	{"hls_mp3_192_url", ProtocolHLS},
	{"hls_mp3_128_url", ProtocolHLS},
	{"hls_mp3_64_url", ProtocolHLS},
	{"hls_mp3_32_url", ProtocolHLS},
}

// Best returns the highest-quality playable URL and its protocol, or empty
// strings when the map holds nothing usable.
func (s Streams) Best() (playableURL string, protocol string) {
	if !s.Playable() {
		return "", ""
	}

	for _, pref := range streamPreference {
		if u := s.urls[pref.key]; u != "" {
			return u, pref.protocol
		}
	}

	return "", ""
}

var timeLayouts = []string{
	time.RFC3339,
	"2006/01/02 15:04:05 -0700",
}

// ParseTime handles both timestamp formats SoundCloud has been observed to
// emit. The zero time is returned for unparseable input.
func ParseTime(raw string) time.Time {
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, raw); nil == err {
			return t
		}
	}

	return time.Time{}
}
