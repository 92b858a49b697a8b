// Package identity maps opaque participant IDs to display profiles by
// searching the directory collections in a fixed order: global user
// registry, doctor roster, patient roster, hospital admin. First match
// wins.
package identity

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"medichat/internal/common"
	"medichat/internal/dbmongo"
)

type Resolver interface {
	// Resolve returns the profile for a participant ID, or
	// common.ErrNotFound when no directory category matches. Callers must
	// treat a miss as non-fatal and fall back to a safe default view.
	Resolve(ctx context.Context, hospitalID, participantID string) (*common.Participant, error)
	// ListContacts returns everyone in the hospital the caller can message:
	// doctors, patients and the admin, excluding the caller, ordered
	// doctors first, then admins, then patients, by name within a role.
	ListContacts(ctx context.Context, hospitalID, selfID string) ([]*common.Participant, error)
}

type mongoResolver struct {
	db *mongo.Database
}

func NewResolver(mc *dbmongo.MongoClient) Resolver {
	return &mongoResolver{db: mc.Database}
}

func (r *mongoResolver) Resolve(ctx context.Context, hospitalID, participantID string) (*common.Participant, error) {
	if participantID == "" {
		return nil, common.ErrNotFound
	}

	// (a) global user registry by ID
	var user dbmongo.User
	err := r.db.Collection(dbmongo.UsersCollection).
		FindOne(ctx, bson.M{"_id": participantID}).Decode(&user)
	if err == nil {
		return userParticipant(&user), nil
	}
	if !errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("failed to query users: %w", err)
	}

	// (b) doctor roster, matched by document ID or linked account ID
	var doctor dbmongo.Doctor
	err = r.db.Collection(dbmongo.DoctorsCollection).
		FindOne(ctx, rosterFilter(hospitalID, participantID)).Decode(&doctor)
	if err == nil {
		return &common.Participant{
			ID:         doctor.ID,
			Name:       fallback(doctor.Name, "Unknown Doctor"),
			Role:       common.RoleDoctor,
			Email:      doctor.Email,
			AvatarURL:  doctor.AvatarURL,
			HasAccount: doctor.AuthUID != "",
		}, nil
	}
	if !errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("failed to query doctors: %w", err)
	}

	// (c) patient roster
	var patient dbmongo.Patient
	err = r.db.Collection(dbmongo.PatientsCollection).
		FindOne(ctx, rosterFilter(hospitalID, participantID)).Decode(&patient)
	if err == nil {
		return &common.Participant{
			ID:         patient.ID,
			Name:       fallback(patient.Name, "Unknown Patient"),
			Role:       common.RolePatient,
			Email:      patient.Email,
			AvatarURL:  patient.AvatarURL,
			HasAccount: patient.AuthUID != "",
		}, nil
	}
	if !errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("failed to query patients: %w", err)
	}

	// (d) hospital admin singleton
	var hospital dbmongo.Hospital
	err = r.db.Collection(dbmongo.HospitalsCollection).
		FindOne(ctx, bson.M{"_id": hospitalID}).Decode(&hospital)
	if err != nil && !errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("failed to query hospital: %w", err)
	}
	if err == nil && hospital.AdminID == participantID {
		var admin dbmongo.User
		aerr := r.db.Collection(dbmongo.UsersCollection).
			FindOne(ctx, bson.M{"_id": hospital.AdminID}).Decode(&admin)
		name := hospital.AdminName
		email := hospital.AdminEmail
		avatar := ""
		if aerr == nil {
			name = fallback(admin.DisplayName, fallback(admin.Name, name))
			email = fallback(admin.Email, email)
			avatar = admin.AvatarURL
		}
		return &common.Participant{
			ID:         hospital.AdminID,
			Name:       fallback(name, "Hospital Admin"),
			Role:       common.RoleAdmin,
			Email:      email,
			AvatarURL:  avatar,
			HasAccount: true,
		}, nil
	}

	return nil, common.ErrNotFound
}

func (r *mongoResolver) ListContacts(ctx context.Context, hospitalID, selfID string) ([]*common.Participant, error) {
	var contacts []*common.Participant

	cursor, err := r.db.Collection(dbmongo.DoctorsCollection).
		Find(ctx, bson.M{"hospitalId": hospitalID})
	if err != nil {
		return nil, fmt.Errorf("failed to list doctors: %w", err)
	}
	var doctors []dbmongo.Doctor
	if err := cursor.All(ctx, &doctors); err != nil {
		return nil, fmt.Errorf("failed to decode doctors: %w", err)
	}
	for _, d := range doctors {
		if d.ID == selfID || d.AuthUID == selfID {
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

	cursor, err = r.db.Collection(dbmongo.PatientsCollection).
		Find(ctx, bson.M{"hospitalId": hospitalID})
	if err != nil {
		return nil, fmt.Errorf("failed to list patients: %w", err)
	}
	var patients []dbmongo.Patient
	if err := cursor.All(ctx, &patients); err != nil {
		return nil, fmt.Errorf("failed to decode patients: %w", err)
	}
	for _, p := range patients {
		if p.ID == selfID || p.AuthUID == selfID {
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

	var hospital dbmongo.Hospital
	err = r.db.Collection(dbmongo.HospitalsCollection).
		FindOne(ctx, bson.M{"_id": hospitalID}).Decode(&hospital)
	if err == nil && hospital.AdminID != "" && hospital.AdminID != selfID {
		if admin, aerr := r.Resolve(ctx, hospitalID, hospital.AdminID); aerr == nil {
			contacts = append(contacts, admin)
		}
	}

	SortContacts(contacts)
	return contacts, nil
}

// SortContacts orders doctors first, then admins, then patients, by name
// within the same role.
func SortContacts(contacts []*common.Participant) {
	roleOrder := map[common.Role]int{
		common.RoleDoctor:  1,
		common.RoleAdmin:   2,
		common.RolePatient: 3,
	}
	sort.SliceStable(contacts, func(i, j int) bool {
		a, b := roleRank(roleOrder, contacts[i].Role), roleRank(roleOrder, contacts[j].Role)
		if a != b {
			return a < b
		}
		return contacts[i].Name < contacts[j].Name
	})
}

func roleRank(order map[common.Role]int, role common.Role) int {
	if rank, ok := order[role]; ok {
		return rank
	}
	return 4
}

func userParticipant(u *dbmongo.User) *common.Participant {
	role := common.Role(u.Role)
	if u.Role == "" {
		role = common.RoleAdmin
	}
	return &common.Participant{
		ID:         u.ID,
		Name:       fallback(u.DisplayName, fallback(u.Name, "User")),
		Role:       role,
		Email:      u.Email,
		AvatarURL:  u.AvatarURL,
		HasAccount: true,
	}
}

// rosterFilter matches a roster entry by its document ID or by the linked
// account ID, scoped to a hospital.
func rosterFilter(hospitalID, participantID string) bson.M {
	return bson.M{
		"hospitalId": hospitalID,
		"$or": []bson.M{
			{"_id": participantID},
			{"authUid": participantID},
		},
	}
}

// participantID prefers the linked account ID so conversation keys line up
// with the sender IDs messages carry.
func participantID(authUID, docID string) string {
	if authUID != "" {
		return authUID
	}
	return docID
}

func fallback(value, def string) string {
	if value != "" {
		return value
	}
	return def
}
