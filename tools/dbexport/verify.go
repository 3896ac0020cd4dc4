package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"gorm.io/gorm"

	"github.com/kinga-app/kinga/internal/datastore/entities"
)

const sampleSize = 5

// Verifier performs post-migration verification.
type Verifier struct {
	sourceDB *gorm.DB
	targetDB *gorm.DB
	out      io.Writer
}

// NewVerifier creates a new Verifier.
func NewVerifier(sourceDB, targetDB *gorm.DB, out io.Writer) *Verifier {
	return &Verifier{sourceDB: sourceDB, targetDB: targetDB, out: out}
}

// Verify compares row counts and spot checks users and pests.
func (v *Verifier) Verify(ctx context.Context) error {
	if err := v.verifyCounts(ctx); err != nil {
		return fmt.Errorf("count verification failed: %w", err)
	}
	if err := v.sampleUsers(ctx, sampleSize); err != nil {
		return fmt.Errorf("users sampling failed: %w", err)
	}
	if err := v.samplePests(ctx, sampleSize); err != nil {
		return fmt.Errorf("pests sampling failed: %w", err)
	}
	fmt.Fprintln(v.out, "Sample verification passed!")
	return nil
}

func (v *Verifier) verifyCounts(ctx context.Context) error {
	fmt.Fprintln(v.out, "\nVerifying record counts...")

	tables := []struct {
		name  string
		model any
	}{
		{"users", &entities.User{}},
		{"pests", &entities.PestKnowledge{}},
		{"predictions", &entities.PredictionRecord{}},
	}

	allMatch := true
	fmt.Fprintf(v.out, "%-15s %12s %12s %8s\n", "Table", "Source", "Target", "Match")
	fmt.Fprintln(v.out, strings.Repeat("-", 50))

	for _, t := range tables {
		var sourceCount, targetCount int64
		if err := v.sourceDB.WithContext(ctx).Model(t.model).Count(&sourceCount).Error; err != nil {
			return fmt.Errorf("failed to count source %s: %w", t.name, err)
		}
		if err := v.targetDB.WithContext(ctx).Model(t.model).Count(&targetCount).Error; err != nil {
			return fmt.Errorf("failed to count target %s: %w", t.name, err)
		}

		match := "✓"
		if sourceCount != targetCount {
			match = "✗"
			allMatch = false
		}
		fmt.Fprintf(v.out, "%-15s %12d %12d %8s\n", t.name, sourceCount, targetCount, match)
	}

	if !allMatch {
		return errors.New("record counts do not match")
	}
	fmt.Fprintln(v.out, "\nAll counts match!")
	return nil
}

// sampleUsers checks that credentials survived the copy byte for byte.
func (v *Verifier) sampleUsers(ctx context.Context, count int) error {
	var users []entities.User
	if err := v.sourceDB.WithContext(ctx).Order("RANDOM()").Limit(count).Find(&users).Error; err != nil {
		return fmt.Errorf("failed to fetch source samples: %w", err)
	}

	for i := range users {
		src := &users[i]
		var target entities.User
		if err := v.targetDB.WithContext(ctx).First(&target, src.ID).Error; err != nil {
			return fmt.Errorf("user ID %d not found in target: %w", src.ID, err)
		}
		if src.Email != target.Email {
			return fmt.Errorf("user ID %d: Email mismatch (%s vs %s)", src.ID, src.Email, target.Email)
		}
		if src.PasswordHash != target.PasswordHash {
			return fmt.Errorf("user ID %d: PasswordHash mismatch", src.ID)
		}
		if src.IsVerified != target.IsVerified {
			return fmt.Errorf("user ID %d: IsVerified mismatch (%v vs %v)", src.ID, src.IsVerified, target.IsVerified)
		}
	}

	fmt.Fprintf(v.out, "  Users: %d samples verified\n", len(users))
	return nil
}

func (v *Verifier) samplePests(ctx context.Context, count int) error {
	var pests []entities.PestKnowledge
	if err := v.sourceDB.WithContext(ctx).Order("RANDOM()").Limit(count).Find(&pests).Error; err != nil {
		return fmt.Errorf("failed to fetch source samples: %w", err)
	}

	for i := range pests {
		src := &pests[i]
		var target entities.PestKnowledge
		if err := v.targetDB.WithContext(ctx).First(&target, src.ID).Error; err != nil {
			return fmt.Errorf("pest ID %d not found in target: %w", src.ID, err)
		}
		if src.Name != target.Name {
			return fmt.Errorf("pest ID %d: Name mismatch (%s vs %s)", src.ID, src.Name, target.Name)
		}
		if src.SwahiliName != target.SwahiliName {
			return fmt.Errorf("pest ID %d: SwahiliName mismatch (%s vs %s)", src.ID, src.SwahiliName, target.SwahiliName)
		}
	}

	fmt.Fprintf(v.out, "  Pests: %d samples verified\n", len(pests))
	return nil
}
