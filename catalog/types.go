// Package catalog aggregates the station's SoundCloud tracks and playlists
// into a single snapshot served to the website.
package catalog

import (
	"time"
)

// Episode is one published track, normalized for consumers. AudioURL holds
// the stream URL captured at aggregation time and serves only as a
// last-resort fallback; clients always play through the stream proxy.
type Episode struct {
	ID                 string    `json:"id"`
	Title              string    `json:"title"`
	ArtworkURL         string    `json:"artworkUrl"`
	PubDate            time.Time `json:"pubDate"`
	Link               string    `json:"link"`
	Description        string    `json:"description"`
	Tags               []string  `json:"tags"`
	AudioURL           string    `json:"audioUrl"`
	StreamProtocol     string    `json:"streamProtocol,omitempty"`
	Sharing            string    `json:"sharing"`
	TrackAuthorization string    `json:"trackAuthorization,omitempty"`
}

func (e *Episode) Public() bool {
	return e.Sharing == "" || e.Sharing == "public"
}

type Playlist struct {
	ID            string    `json:"id"`
	Title         string    `json:"title"`
	ArtworkURL    string    `json:"artworkUrl"`
	Description   string    `json:"description"`
	PermalinkURL  string    `json:"permalinkUrl"`
	TrackCount    int       `json:"trackCount"`
	Tags          []string  `json:"tags"`
	LastUpdated   time.Time `json:"lastUpdated"`
	EpisodeIDs    []string  `json:"episodeIds"`
	LatestEpisode *Episode  `json:"latestEpisode,omitempty"`
}

// Snapshot is one complete, internally consistent copy of the catalog. It is
// produced wholesale by the aggregator and replaced atomically; readers never
// observe a partial update.
type Snapshot struct {
	Episodes    []Episode  `json:"episodes"`
	Playlists   []Playlist `json:"playlists"`
	Tags        []string   `json:"tags"`
	LastUpdated time.Time  `json:"lastUpdated"`
}

func EmptySnapshot() *Snapshot {
	return &Snapshot{
		Episodes:    []Episode{},
		Playlists:   []Playlist{},
		Tags:        []string{},
		LastUpdated: time.Time{},
	}
}

// PublicEpisode looks up an episode by id, refusing non-public entries.
func (s *Snapshot) PublicEpisode(id string) (*Episode, bool) {
	for i := range s.Episodes {
		if ep := &s.Episodes[i]; ep.ID == id && ep.Public() {
			return ep, true
		}
	}

	return nil, false
}

// PublicEpisodes filters the episode list down to publicly shareable ones.
func (s *Snapshot) PublicEpisodes() []Episode {
	out := make([]Episode, 0, len(s.Episodes))
	for _, ep := range s.Episodes {
		if ep.Public() {
			out = append(out, ep)
		}
	}

	return out
}

func (s *Snapshot) PublicPlaylist(id string) (*Playlist, bool) {
	for i := range s.Playlists {
		if pl := &s.Playlists[i]; pl.ID == id {
			return pl, true
		}
	}

	return nil, false
}
