package models

import "time"

type Coord struct {
	Lat float64 `json:"latitude" bson:"latitude"`
	Lon float64 `json:"longitude" bson:"longitude"`
}

// Status is the lifecycle state of an emergency request.
type Status string

const (
	StatusPending   Status = "Pending"
	StatusAccepted  Status = "Accepted"
	StatusCompleted Status = "Completed"
	StatusCancelled Status = "Cancelled"
)

// HoldsAssignee reports whether a request in state s must carry an assigned provider.
func (s Status) HoldsAssignee() bool {
	return s == StatusAccepted || s == StatusCompleted
}

type VehicleType string

const (
	VehicleMotorcycle VehicleType = "motorcycle"
	VehicleCar        VehicleType = "car"
)

const DefaultLastServiceDate = "Not Available"

// Vehicle is a copy of the requester's vehicle taken when the request is
// created. Later edits to the vehicle profile never reach it.
type Vehicle struct {
	Name            string      `json:"name" bson:"name"`
	Model           string      `json:"model" bson:"model"`
	FuelType        string      `json:"fuelType" bson:"fuelType"`
	VehicleType     VehicleType `json:"vehicleType" bson:"vehicleType"`
	LastServiceDate string      `json:"lastServiceDate" bson:"lastServiceDate"`
}

type EmergencyRequest struct {
	ID               string    `json:"id" bson:"_id"`
	RequesterID      string    `json:"requesterId" bson:"requesterId"`
	Location         Coord     `json:"location" bson:"location"`
	IssueType        string    `json:"issueType" bson:"issueType"`
	Vehicle          Vehicle   `json:"vehicle" bson:"vehicle"`
	Status           Status    `json:"status" bson:"status"`
	AssignedProvider *string   `json:"assignedProvider" bson:"assignedProvider"`
	RejectedBy       []string  `json:"rejectedBy" bson:"rejectedBy"`
	CreatedAt        time.Time `json:"createdAt" bson:"createdAt"`
	UpdatedAt        time.Time `json:"updatedAt" bson:"updatedAt"`
}

// Rejected reports whether providerID is in the rejection set.
func (r *EmergencyRequest) Rejected(providerID string) bool {
	for _, id := range r.RejectedBy {
		if id == providerID {
			return true
		}
	}
	return false
}

// AssignedTo reports whether providerID is the current assignee.
func (r *EmergencyRequest) AssignedTo(providerID string) bool {
	return r.AssignedProvider != nil && *r.AssignedProvider == providerID
}

// Clone returns a deep copy so callers can hold a request without sharing
// the assignee pointer or rejection slice with the store.
func (r *EmergencyRequest) Clone() *EmergencyRequest {
	c := *r
	if r.AssignedProvider != nil {
		p := *r.AssignedProvider
		c.AssignedProvider = &p
	}
	c.RejectedBy = append([]string(nil), r.RejectedBy...)
	if c.RejectedBy == nil {
		c.RejectedBy = []string{}
	}
	return &c
}

// ServicePreference says which kinds of work a provider takes.
type ServicePreference string

const (
	PreferenceEmergencyOnly ServicePreference = "EmergencyOnly"
	PreferenceScheduledOnly ServicePreference = "ScheduledOnly"
	PreferenceBoth          ServicePreference = "Both"
)

type ServiceKind string

const (
	ServiceEmergency ServiceKind = "Emergency"
	ServiceScheduled ServiceKind = "Scheduled"
)

// Accepts reports whether a provider with preference p takes work of kind k.
// An unset preference is treated as Both.
func (p ServicePreference) Accepts(k ServiceKind) bool {
	switch k {
	case ServiceEmergency:
		return p != PreferenceScheduledOnly
	case ServiceScheduled:
		return p != PreferenceEmergencyOnly
	default:
		return false
	}
}

// Provider is a read-only snapshot of a mechanic as seen by the directory.
// Location is nil when the provider never reported one.
type Provider struct {
	ID         string            `json:"id"`
	Approved   bool              `json:"approved"`
	Suspended  bool              `json:"suspended"`
	Available  bool              `json:"available"`
	Location   *Coord            `json:"location,omitempty"`
	Preference ServicePreference `json:"servicePreference"`
	Updated    time.Time         `json:"updated"`
}

// Candidate is a pending request annotated for one provider.
type Candidate struct {
	Request    EmergencyRequest `json:"request"`
	DistanceKm float64          `json:"distance"`
	ETAMinutes int              `json:"eta_minutes"`
}

type StatusView struct {
	RequestID        string  `json:"requestId"`
	Status           Status  `json:"status"`
	AssignedProvider *string `json:"assignedProvider"`
}

// AvailabilityUpdate is what a provider reports about itself; it travels over
// HTTP and over the location topic.
type AvailabilityUpdate struct {
	ProviderID string            `json:"providerId"`
	Available  bool              `json:"isAvailable"`
	Location   Coord             `json:"location"`
	Approved   *bool             `json:"approved,omitempty"`
	Suspended  *bool             `json:"suspended,omitempty"`
	Preference ServicePreference `json:"servicePreference,omitempty"`
}
