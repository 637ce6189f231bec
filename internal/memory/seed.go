package memory

import (
	"time"

	"mt5-session-bot/internal/models"
)

// seedData is the lesson set a fresh deployment starts from. The ids carry
// gaps on purpose; the counter starts past the highest seeded id so new
// lessons never collide.
func seedData() *models.MemoryData {
	now := time.Now()
	mk := func(id, typ, context, rule, result string, relevance int) models.Lesson {
		return models.Lesson{
			ID:        id,
			Date:      "2024-12-01",
			Pair:      "EURUSD",
			Type:      typ,
			Context:   context,
			Rule:      rule,
			Result:    result,
			Relevance: relevance,
			CreatedAt: now,
			UpdatedAt: now,
		}
	}
	return &models.MemoryData{
		Lessons: []models.Lesson{
			mk("L001", "Structure", "H4 ranging with no direction", "Do not trade unless H4 is crystal clear", "WAIT", 5),
			mk("L002", "Timing", "Structure OK but price at highs", "Do not buy tops without a clear zone", "WAIT", 4),
			mk("L003", "Complete Setup", "H4+H1+M15 aligned", "Full cascade = high probability", "+22 pips", 5),
			mk("L007", "Broken Zone", "Zone identified but it broke", "Do not force trades when the zone fails", "WAIT", 5),
			mk("L008", "System", "Avoided a loss thanks to memory", "Memory works to avoid repeat mistakes", "No Loss", 5),
			mk("L009", "Technical", "Misread the chart timeframe", "Read the exact label, never guess", "N/A", 5),
			mk("L010", "Technical", "Capture precision matters", "Verify the data before analyzing", "N/A", 5),
			mk("L011", "Complete Setup", "Cascade plus respected zone", "Order blocks work on retracements", "+16 pips", 5),
		},
		LastLessonID: 11,
		Metadata: models.MemoryMetadata{
			CreatedAt:   now,
			UpdatedAt:   now,
			LessonCount: 8,
		},
	}
}
