// Package testutil holds the sample mapping and helpers shared by tests.
package testutil

import (
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/roach88/qexp/internal/mapping"
)

// SampleMapping exercises every mapping feature the compiler handles:
// owning and inverse relations, join-table and foreign-key collections,
// scalar collections and maps, embeddables, ordinal enums, joined and
// single-table inheritance, and a compound key.
const SampleMapping = `
enums:
  Status:
    values: [ACTIVE, INACTIVE, RETIRED]

embeddables:
  Address:
    fields:
      street: {type: string}
      city: {type: string}

entities:
  Person:
    table: person
    id: [id]
    fields:
      id: {type: long}
      name: {type: string}
      age: {type: int}
      salary: {type: double}
      status: {enum: Status, ordinal: true}
      address: {embedded: Address}
      dept: {relation: Department, join: [dept_id]}
      manager: {relation: Person, join: [manager_id]}
      profile: {relation: Profile, mapped_by: person}
      projects: {collection: Project, table: person_project, owner: [person_id], inverse: [project_id]}
      nicknames: {collection: string, table: person_nickname, owner: [person_id], element: nickname}
      phones: {map: string, table: person_phone, owner: [person_id], element: number, key_column: kind}

  Department:
    table: department
    id: [id]
    fields:
      id: {type: long}
      name: {type: string}
      budget: {type: double}
      employees: {collection: Person, mapped_by: dept}

  Project:
    table: project
    id: [id]
    fields:
      id: {type: long}
      title: {type: string}
      cost: {type: double}

  Profile:
    table: profile
    id: [id]
    fields:
      id: {type: long}
      bio: {type: string}
      person: {relation: Person, join: [person_id]}

  Vehicle:
    table: vehicle
    inheritance: joined
    discriminator: {column: vtype, value: VEHICLE}
    id: [id]
    fields:
      id: {type: long}
      make: {type: string}

  Car:
    table: car
    extends: Vehicle
    discriminator: {value: CAR}
    fields:
      doors: {type: int}

  SportsCar:
    table: sports_car
    extends: Car
    discriminator: {value: SPORTS}
    fields:
      topSpeed: {type: int, column: top_speed}

  Animal:
    table: animal
    discriminator: {column: kind, value: ANIMAL}
    id: [id]
    fields:
      id: {type: long}
      name: {type: string}

  Dog:
    extends: Animal
    discriminator: {value: DOG}
    fields:
      bark: {type: string}

  Cat:
    extends: Animal
    discriminator: {value: CAT}
    fields:
      lives: {type: int}

  Shipment:
    table: shipment
    id: [carrier, number]
    fields:
      carrier: {type: string}
      number: {type: long}
      weight: {type: double}

  Parcel:
    table: parcel
    id: [id]
    fields:
      id: {type: long}
      label: {type: string}
      shipment: {relation: Shipment, join: [ship_carrier, ship_number]}
`

var (
	sampleOnce sync.Once
	sample     *mapping.Repository
	sampleErr  error
)

// MustSampleRepository returns the repository built from SampleMapping.
// The repository is read-only and shared.
func MustSampleRepository() *mapping.Repository {
	sampleOnce.Do(func() {
		sample, sampleErr = mapping.LoadYAML("sample.yaml", []byte(SampleMapping))
	})
	if sampleErr != nil {
		panic(sampleErr)
	}
	return sample
}

// SampleRepository is MustSampleRepository failing t instead of panicking.
func SampleRepository(t testing.TB) *mapping.Repository {
	t.Helper()
	sampleOnce.Do(func() {
		sample, sampleErr = mapping.LoadYAML("sample.yaml", []byte(SampleMapping))
	})
	if sampleErr != nil {
		t.Fatalf("load sample mapping: %v", sampleErr)
	}
	return sample
}

// DiscardLogger returns a logger that drops everything.
func DiscardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
