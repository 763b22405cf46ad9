// Copyright 2025 AI Lead Generation System Project
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"context"
	"log"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/Fos938/lead-generator/internal/history"
)

const DefaultHistoryDBPath = "./history.db"

func main() {
	log.Println("🌱 Seeding run history with demo data...")

	dbPath := os.Getenv("HISTORY_DB_PATH")
	if dbPath == "" {
		dbPath = DefaultHistoryDBPath
	}

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("❌ Failed to create logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	store, err := history.NewStore(dbPath, logger)
	if err != nil {
		log.Fatalf("❌ Failed to open history store at %s: %v", dbPath, err)
	}
	defer func() { _ = store.Close() }()

	summaries := generateDemoSummaries()
	log.Printf("📄 Generated %d demo run summaries", len(summaries))

	ctx := context.Background()
	for _, summary := range summaries {
		if err := store.Record(ctx, summary); err != nil {
			log.Fatalf("❌ Failed to record run %s: %v", summary.RunID, err)
		}
	}

	log.Println("✅ Run history seeding completed successfully!")
	log.Printf("📊 Database '%s' now contains %d demo runs", dbPath, len(summaries))
	printSummary(summaries)
}

func generateDemoSummaries() []history.Summary {
	now := time.Now().UTC()

	summaries := []history.Summary{
		{
			RunID:          "run_demo_dental_buckhead",
			Industry:       "dental practices",
			Location:       "Buckhead, Atlanta, GA",
			RequestedLeads: 5,
			ReturnedLeads:  5,
			QualifiedLeads: 5,
			HighValue:      2,
			MediumValue:    2,
			LowValue:       1,
			ExportFilename: "qualified_leads_" + now.Add(-2*time.Hour).Format("2006-01-02_15-04-05") + ".xlsx",
			CreatedAt:      now.Add(-2*time.Hour - 70*time.Second),
			CompletedAt:    now.Add(-2 * time.Hour),
		},
		{
			RunID:          "run_demo_medspa_austin",
			Industry:       "med spas",
			Location:       "Austin, TX",
			RequestedLeads: 8,
			ReturnedLeads:  7,
			QualifiedLeads: 6,
			HighValue:      3,
			MediumValue:    2,
			LowValue:       1,
			ExportFilename: "qualified_leads_" + now.Add(-26*time.Hour).Format("2006-01-02_15-04-05") + ".xlsx",
			CreatedAt:      now.Add(-26*time.Hour - 95*time.Second),
			CompletedAt:    now.Add(-26 * time.Hour),
		},
		{
			RunID:          "run_demo_law_denver",
			Industry:       "law firms",
			Location:       "Denver, CO",
			RequestedLeads: 10,
			ReturnedLeads:  10,
			QualifiedLeads: 8,
			HighValue:      4,
			MediumValue:    3,
			LowValue:       1,
			ExportFilename: "qualified_leads_" + now.Add(-3*24*time.Hour).Format("2006-01-02_15-04-05") + ".xlsx",
			CreatedAt:      now.Add(-3*24*time.Hour - 120*time.Second),
			CompletedAt:    now.Add(-3 * 24 * time.Hour),
		},
		{
			RunID:            "run_demo_vet_nashville",
			Industry:         "veterinary clinics",
			Location:         "Nashville, TN",
			RequestedLeads:   4,
			ReturnedLeads:    3,
			QualifiedLeads:   3,
			HighValue:        3,
			MediumValue:      0,
			LowValue:         0,
			ResearchFallback: true,
			AnalysisFallback: true,
			CreatedAt:        now.Add(-5*24*time.Hour - 45*time.Second),
			CompletedAt:      now.Add(-5 * 24 * time.Hour),
		},
		{
			RunID:          "run_demo_dental_midtown",
			Industry:       "dental practices",
			Location:       "Midtown, Atlanta, GA",
			RequestedLeads: 6,
			ReturnedLeads:  6,
			QualifiedLeads: 4,
			HighValue:      1,
			MediumValue:    2,
			LowValue:       1,
			ExportFilename: "qualified_leads_" + now.Add(-7*24*time.Hour).Format("2006-01-02_15-04-05") + ".xlsx",
			CreatedAt:      now.Add(-7*24*time.Hour - 80*time.Second),
			CompletedAt:    now.Add(-7 * 24 * time.Hour),
		},
	}

	return summaries
}

// printSummary prints a summary of the seeded data
func printSummary(summaries []history.Summary) {
	log.Println("\n📊 Demo Run Summary:")
	log.Println("====================")

	industryCount := make(map[string]int)
	totalQualified := 0
	totalHighValue := 0

	for _, s := range summaries {
		industryCount[s.Industry]++
		totalQualified += s.QualifiedLeads
		totalHighValue += s.HighValue
	}

	log.Println("📋 Runs by industry:")
	for industry, count := range industryCount {
		log.Printf("  %s: %d", industry, count)
	}

	log.Printf("\n🎯 Total qualified leads: %d", totalQualified)
	log.Printf("⭐ Total high value leads: %d", totalHighValue)
}
