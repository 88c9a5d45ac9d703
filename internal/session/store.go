// Package session manages per-user conversation state: the named locations a
// user has registered for satellite monitoring. State lives in explicit
// Session objects owned by a Store rather than a process-wide map, so the
// lifecycle is tied to the conversation layer that owns the Store.
package session

import (
	"sort"
	"sync"
	"time"

	"github.com/fernwatch/satveg-collector/internal/domain"
)

// Location is one user-named place. Name is the user's custom label
// ("Home", "Grandma's house"); PlaceName is the geocoded city or area.
type Location struct {
	Name      string    `json:"name"`
	PlaceName string    `json:"place_name"`
	RegionID  string    `json:"region_id"`
	Lat       float64   `json:"lat"`
	Lon       float64   `json:"lon"`
	AddedAt   time.Time `json:"added_at"`
}

// Session holds one user's registered locations.
type Session struct {
	UserID    int64
	locations map[string]Location
}

// Store is a thread-safe registry of user sessions.
type Store struct {
	mu       sync.RWMutex
	sessions map[int64]*Session
}

// NewStore creates an empty session store.
func NewStore() *Store {
	return &Store{sessions: make(map[int64]*Session)}
}

func (s *Store) session(userID int64) *Session {
	sess, ok := s.sessions[userID]
	if !ok {
		sess = &Session{UserID: userID, locations: make(map[string]Location)}
		s.sessions[userID] = sess
	}
	return sess
}

// AddLocation registers a named location for a user, deriving its RegionID
// from the coordinates. An existing location with the same name is replaced.
func (s *Store) AddLocation(userID int64, name, placeName string, lat, lon float64) Location {
	loc := Location{
		Name:      name,
		PlaceName: placeName,
		RegionID:  domain.DeriveRegionID(lat, lon),
		Lat:       lat,
		Lon:       lon,
		AddedAt:   domain.Now(),
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.session(userID).locations[name] = loc
	return loc
}

// Location returns a user's location by name.
func (s *Store) Location(userID int64, name string) (Location, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[userID]
	if !ok {
		return Location{}, false
	}
	loc, ok := sess.locations[name]
	return loc, ok
}

// Locations lists a user's locations sorted by name.
func (s *Store) Locations(userID int64) []Location {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[userID]
	if !ok {
		return nil
	}

	locs := make([]Location, 0, len(sess.locations))
	for _, loc := range sess.locations {
		locs = append(locs, loc)
	}
	sort.Slice(locs, func(i, j int) bool { return locs[i].Name < locs[j].Name })
	return locs
}

// RemoveLocation deletes a user's location by name. Returns false when no
// such location exists.
func (s *Store) RemoveLocation(userID int64, name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[userID]
	if !ok {
		return false
	}
	if _, ok := sess.locations[name]; !ok {
		return false
	}
	delete(sess.locations, name)
	return true
}

// RenameLocation changes a location's user-facing name, keeping the rest of
// its data. Returns false when the old name does not exist.
func (s *Store) RenameLocation(userID int64, oldName, newName string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[userID]
	if !ok {
		return false
	}
	loc, ok := sess.locations[oldName]
	if !ok {
		return false
	}

	loc.Name = newName
	delete(sess.locations, oldName)
	sess.locations[newName] = loc
	return true
}
