package lobbyserver

import (
	"encoding/json"
	"errors"
	"sync"

	"github.com/google/uuid"

	"auxlobby/internal/protocol"
)

var ErrNotFound = errors.New("not found")

// Directory is the durable state behind the collaborator REST API:
// user profiles, friendships and the notification store. Notifications
// stay here until the recipient explicitly deletes them.
type Directory struct {
	mu       sync.RWMutex
	profiles map[string]protocol.Profile
	friends  map[string]map[string]bool
	notifs   map[string]protocol.Notification
	byUser   map[string][]string
	owner    map[string]string
}

func NewDirectory() *Directory {
	return &Directory{
		profiles: make(map[string]protocol.Profile),
		friends:  make(map[string]map[string]bool),
		notifs:   make(map[string]protocol.Notification),
		byUser:   make(map[string][]string),
		owner:    make(map[string]string),
	}
}

// RegisterProfile records or refreshes a user profile.
func (d *Directory) RegisterProfile(p protocol.Profile) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.profiles[p.UserID] = p
}

func (d *Directory) Profile(userID string) (protocol.Profile, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	p, ok := d.profiles[userID]
	if !ok {
		return protocol.Profile{}, ErrNotFound
	}
	return p, nil
}

// AddFriend records a mutual friendship.
func (d *Directory) AddFriend(userID, friendID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, pair := range [][2]string{{userID, friendID}, {friendID, userID}} {
		if d.friends[pair[0]] == nil {
			d.friends[pair[0]] = make(map[string]bool)
		}
		d.friends[pair[0]][pair[1]] = true
	}
}

func (d *Directory) RemoveFriend(userID, friendID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.friends[userID], friendID)
	delete(d.friends[friendID], userID)
}

func (d *Directory) AreFriends(userID, friendID string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.friends[userID][friendID]
}

// AddNotification stores a durable notification for a user and returns
// it with its assigned id.
func (d *Directory) AddNotification(userID string, kind protocol.NotifKind, payload interface{}) (protocol.Notification, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return protocol.Notification{}, err
	}
	n := protocol.Notification{ID: uuid.NewString(), Kind: kind, Payload: data}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.notifs[n.ID] = n
	d.byUser[userID] = append(d.byUser[userID], n.ID)
	d.owner[n.ID] = userID
	return n, nil
}

// Notifications lists a user's pending durable notifications.
func (d *Directory) Notifications(userID string) []protocol.Notification {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]protocol.Notification, 0, len(d.byUser[userID]))
	for _, id := range d.byUser[userID] {
		if n, ok := d.notifs[id]; ok {
			out = append(out, n)
		}
	}
	return out
}

// DeleteNotification dismisses a durable notification.
func (d *Directory) DeleteNotification(id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.notifs[id]; !ok {
		return ErrNotFound
	}
	userID := d.owner[id]
	delete(d.notifs, id)
	delete(d.owner, id)
	ids := d.byUser[userID]
	for i, nid := range ids {
		if nid == id {
			d.byUser[userID] = append(ids[:i], ids[i+1:]...)
			break
		}
	}
	return nil
}
