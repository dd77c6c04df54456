// Package matcher ранжирует пользователей как кандидатов в помощники по
// навыкам, которые требуются заявке.
package matcher

import (
	"cmp"
	"slices"
	"strings"

	"github.com/untibullet/fixit/internal/models"
)

// Вес навыка в зависимости от уровня владения
var levelWeights = map[models.SkillLevel]float64{
	models.LevelBeginner:     0.4,
	models.LevelIntermediate: 0.6,
	models.LevelAdvanced:     0.8,
	models.LevelExpert:       1.0,
}

const (
	unknownLevelWeight = 0.5
	unverifiedFactor   = 0.75
)

// RankHelpers оценивает каждого кандидата по пересечению его навыков с
// требуемыми и возвращает список по убыванию оценки. Оценка лежит в [0, 1].
// При равенстве выше стоит тот, кто решил больше заявок, затем тот, у кого
// выше рейтинг, затем порядок во входном списке.
//
// Автор заявки должен быть исключен из candidates вызывающей стороной.
// Пустой requiredSkills трактуется как models.DefaultSkill.
func RankHelpers(requiredSkills []string, candidates []models.User) []models.HelperCandidate {
	required := models.NormalizeSkills(requiredSkills)

	ranked := make([]models.HelperCandidate, 0, len(candidates))
	for _, u := range candidates {
		ranked = append(ranked, models.HelperCandidate{
			User:  u,
			Score: Score(required, u.Skills),
		})
	}

	slices.SortStableFunc(ranked, compareCandidates)
	return ranked
}

// Fallback расширенный пул без совпадений по навыкам: все кандидаты с нулевой
// оценкой в исходном порядке и флагом Fallback. Вызывается явно, когда
// RankHelpers нечего предложить.
func Fallback(candidates []models.User) []models.HelperCandidate {
	out := make([]models.HelperCandidate, 0, len(candidates))
	for _, u := range candidates {
		out = append(out, models.HelperCandidate{User: u, Fallback: true})
	}
	return out
}

// Score считает оценку набора навыков относительно уже нормализованного
// списка требуемых навыков.
func Score(required []string, skills []models.Skill) float64 {
	if len(required) == 0 {
		return 0
	}

	best := make(map[string]float64, len(skills))
	for _, s := range skills {
		name := strings.ToLower(strings.TrimSpace(s.Name))
		if w := skillWeight(s); w > best[name] {
			best[name] = w
		}
	}

	var sum float64
	for _, name := range required {
		sum += best[name]
	}

	score := sum / float64(len(required))
	return min(max(score, 0), 1)
}

func skillWeight(s models.Skill) float64 {
	w, ok := levelWeights[s.Level]
	if !ok {
		w = unknownLevelWeight
	}
	if !s.Verified {
		w *= unverifiedFactor
	}
	return w
}

func compareCandidates(a, b models.HelperCandidate) int {
	if c := cmp.Compare(b.Score, a.Score); c != 0 {
		return c
	}
	if c := cmp.Compare(b.Contributions.IssuesResolved, a.Contributions.IssuesResolved); c != 0 {
		return c
	}
	return cmp.Compare(b.Contributions.Rating, a.Contributions.Rating)
}
