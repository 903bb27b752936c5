package bookings

import (
	"sort"
	"sync"
)

// Store keeps the last known booking records per patient. Records are replaced
// wholesale on refresh and mutated only by a confirmed backend outcome.
type Store struct {
	mu   sync.RWMutex
	byID map[string]Booking
}

func NewStore() *Store {
	return &Store{byID: make(map[string]Booking)}
}

// Put records b.
func (s *Store) Put(b Booking) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byID[b.ID] = b
}

// Get returns the booking only if it belongs to patientID.
func (s *Store) Get(patientID, id string) (Booking, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.byID[id]
	if !ok || b.PatientID != patientID {
		return Booking{}, false
	}
	return b, true
}

// ReplaceForPatient drops the patient's cached bookings and stores list.
func (s *Store) ReplaceForPatient(patientID string, list []Booking) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, b := range s.byID {
		if b.PatientID == patientID {
			delete(s.byID, id)
		}
	}
	for _, b := range list {
		if b.PatientID == "" {
			b.PatientID = patientID
		}
		s.byID[b.ID] = b
	}
}

// ForPatient lists the patient's bookings by appointment time.
func (s *Store) ForPatient(patientID string) []Booking {
	s.mu.RLock()
	out := make([]Booking, 0)
	for _, b := range s.byID {
		if b.PatientID == patientID {
			out = append(out, b)
		}
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if !out[i].AppointmentDate.Equal(out[j].AppointmentDate) {
			return out[i].AppointmentDate.Before(out[j].AppointmentDate)
		}
		return out[i].SlotStart.Before(out[j].SlotStart)
	})
	return out
}
