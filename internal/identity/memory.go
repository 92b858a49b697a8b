package identity

import (
	"context"

	"medichat/internal/common"
	"medichat/internal/dbmongo"
)

// MemoryResolver resolves against in-memory directory data. Used by tests
// and by single-process runs backed by the memory store.
type MemoryResolver struct {
	Users     []dbmongo.User
	Doctors   []dbmongo.Doctor
	Patients  []dbmongo.Patient
	Hospitals []dbmongo.Hospital
}

var _ Resolver = (*MemoryResolver)(nil)

func (r *MemoryResolver) Resolve(ctx context.Context, hospitalID, id string) (*common.Participant, error) {
	if id == "" {
		return nil, common.ErrNotFound
	}

	for i := range r.Users {
		if r.Users[i].ID == id {
			return userParticipant(&r.Users[i]), nil
		}
	}

	for _, d := range r.Doctors {
		if d.HospitalID == hospitalID && (d.ID == id || d.AuthUID == id) {
			return &common.Participant{
				ID:         d.ID,
				Name:       fallback(d.Name, "Unknown Doctor"),
				Role:       common.RoleDoctor,
				Email:      d.Email,
				AvatarURL:  d.AvatarURL,
				HasAccount: d.AuthUID != "",
			}, nil
		}
	}

	for _, p := range r.Patients {
		if p.HospitalID == hospitalID && (p.ID == id || p.AuthUID == id) {
			return &common.Participant{
				ID:         p.ID,
				Name:       fallback(p.Name, "Unknown Patient"),
				Role:       common.RolePatient,
				Email:      p.Email,
				AvatarURL:  p.AvatarURL,
				HasAccount: p.AuthUID != "",
			}, nil
		}
	}

	for _, h := range r.Hospitals {
		if h.ID == hospitalID && h.AdminID == id {
			return &common.Participant{
				ID:         h.AdminID,
				Name:       fallback(h.AdminName, "Hospital Admin"),
				Role:       common.RoleAdmin,
				Email:      h.AdminEmail,
				HasAccount: true,
			}, nil
		}
	}

	return nil, common.ErrNotFound
}

func (r *MemoryResolver) ListContacts(ctx context.Context, hospitalID, selfID string) ([]*common.Participant, error) {
	var contacts []*common.Participant

	for _, d := range r.Doctors {
		if d.HospitalID != hospitalID || d.ID == selfID || d.AuthUID == selfID {
			continue
		}
		contacts = append(contacts, &common.Participant{
			ID:         participantID(d.AuthUID, d.ID),
			Name:       fallback(d.Name, "Unknown Doctor"),
			Role:       common.RoleDoctor,
			Email:      d.Email,
			AvatarURL:  d.AvatarURL,
			HasAccount: d.AuthUID != "",
		})
	}

	for _, p := range r.Patients {
		if p.HospitalID != hospitalID || p.ID == selfID || p.AuthUID == selfID {
			continue
		}
		contacts = append(contacts, &common.Participant{
			ID:         participantID(p.AuthUID, p.ID),
			Name:       fallback(p.Name, "Unknown Patient"),
			Role:       common.RolePatient,
			Email:      p.Email,
			AvatarURL:  p.AvatarURL,
			HasAccount: p.AuthUID != "",
		})
	}

	for _, h := range r.Hospitals {
		if h.ID == hospitalID && h.AdminID != "" && h.AdminID != selfID {
			if admin, err := r.Resolve(ctx, hospitalID, h.AdminID); err == nil {
				contacts = append(contacts, admin)
			}
		}
	}

	SortContacts(contacts)
	return contacts, nil
}
