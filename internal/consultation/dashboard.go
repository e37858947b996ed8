package consultation

import (
	"math"
	"sort"
	"time"
)

type DashboardSummary struct {
	TotalPatients          int     `json:"total_patients"`
	CompletedConsultations int     `json:"completed_consultations"`
	PatientsToday          int     `json:"patients_today"`
	PatientsThisWeek       int     `json:"patients_this_week"`
	CompletionRate         float64 `json:"completion_rate"`
}

type SymptomCount struct {
	Symptom string `json:"symptom"`
	Count   int    `json:"count"`
}

type SymptomAnalytics struct {
	TopSymptoms         []SymptomCount `json:"top_symptoms"`
	TotalUniqueSymptoms int            `json:"total_unique_symptoms"`
	MostCommon          *SymptomCount  `json:"most_common"`
}

type Demographics struct {
	GenderDistribution map[string]int `json:"gender_distribution"`
	AgeGroups          map[string]int `json:"age_groups"`
	AverageAge         float64        `json:"average_age"`
}

type RecentConsultation struct {
	Snapshot
	DurationMinutes float64 `json:"duration_minutes"`
}

// Dashboard aggregates persisted sessions for the doctor view.
type Dashboard struct {
	Summary             DashboardSummary     `json:"summary"`
	RecentConsultations []RecentConsultation `json:"recent_consultations"`
	SymptomAnalytics    SymptomAnalytics     `json:"symptom_analytics"`
	Demographics        Demographics         `json:"patient_demographics"`
}

const (
	recentLimit = 10
	topLimit    = 10
)

// BuildDashboard computes dashboard figures from snapshots ordered most
// recently updated first.
func BuildDashboard(snaps []Snapshot, now time.Time) Dashboard {
	d := Dashboard{
		RecentConsultations: []RecentConsultation{},
		Demographics: Demographics{
			GenderDistribution: map[string]int{},
			AgeGroups:          map[string]int{"18-30": 0, "31-45": 0, "46-60": 0, "60+": 0},
		},
	}

	symptomCounts := map[string]int{}
	ageSum, ageN := 0, 0

	for i, s := range snaps {
		d.Summary.TotalPatients++
		if s.Phase == PhaseCompleted {
			d.Summary.CompletedConsultations++
		}
		if now.Sub(s.CreatedAt) <= 24*time.Hour {
			d.Summary.PatientsToday++
		}
		if now.Sub(s.CreatedAt) <= 7*24*time.Hour {
			d.Summary.PatientsThisWeek++
		}

		if i < recentLimit {
			d.RecentConsultations = append(d.RecentConsultations, RecentConsultation{
				Snapshot:        s,
				DurationMinutes: round1(s.UpdatedAt.Sub(s.CreatedAt).Minutes()),
			})
		}

		for _, sym := range s.Symptoms {
			symptomCounts[sym]++
		}
		if s.Gender != "" {
			d.Demographics.GenderDistribution[s.Gender]++
		}
		if s.Age > 0 {
			if group := ageGroup(s.Age); group != "" {
				d.Demographics.AgeGroups[group]++
			}
			ageSum += s.Age
			ageN++
		}
	}

	if d.Summary.TotalPatients > 0 {
		d.Summary.CompletionRate = round1(float64(d.Summary.CompletedConsultations) / float64(d.Summary.TotalPatients) * 100)
	}
	if ageN > 0 {
		d.Demographics.AverageAge = round1(float64(ageSum) / float64(ageN))
	}

	counts := make([]SymptomCount, 0, len(symptomCounts))
	for sym, n := range symptomCounts {
		counts = append(counts, SymptomCount{Symptom: sym, Count: n})
	}
	sort.Slice(counts, func(i, j int) bool {
		if counts[i].Count != counts[j].Count {
			return counts[i].Count > counts[j].Count
		}
		return counts[i].Symptom < counts[j].Symptom
	})
	d.SymptomAnalytics.TotalUniqueSymptoms = len(counts)
	if len(counts) > 0 {
		top := counts[0]
		d.SymptomAnalytics.MostCommon = &top
	}
	if len(counts) > topLimit {
		counts = counts[:topLimit]
	}
	d.SymptomAnalytics.TopSymptoms = counts
	return d
}

// ageGroup returns "" for minors, who count toward the average age only.
func ageGroup(age int) string {
	switch {
	case age < 18:
		return ""
	case age <= 30:
		return "18-30"
	case age <= 45:
		return "31-45"
	case age <= 60:
		return "46-60"
	default:
		return "60+"
	}
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
