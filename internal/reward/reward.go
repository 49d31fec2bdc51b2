// Package reward turns a stage performance record into a rating and rewards.
package reward

// Performance is the running record of one stage. Counters only grow while
// the stage runs.
type Performance struct {
	TurnsUsed            int `json:"turns_used"`
	UnitsLost            int `json:"units_lost"`
	EnemiesDefeated      int `json:"enemies_defeated"`
	BossesDefeated       int `json:"bosses_defeated"`
	RecruitmentSuccesses int `json:"recruitment_successes"`
	DamageDealt          int `json:"damage_dealt"`
	DamageTaken          int `json:"damage_taken"`
	HealingDone          int `json:"healing_done"`
}

// Rating is the clear grade.
type Rating string

const (
	RatingS Rating = "S"
	RatingA Rating = "A"
	RatingB Rating = "B"
	RatingC Rating = "C"
)

// Policy holds the per-stage reward parameters.
type Policy struct {
	ParTurns            int `json:"par_turns"`
	BaseExperience      int `json:"base_experience"`
	BaseGold            int `json:"base_gold"`
	ExperiencePerEnemy  int `json:"experience_per_enemy"`
	ExperiencePerBoss   int `json:"experience_per_boss"`
	GoldPerEnemy        int `json:"gold_per_enemy"`
	BossCurrencyPerKill int `json:"boss_currency_per_kill"`
	RecruitBonus        int `json:"recruit_bonus"`
}

// DefaultPolicy returns the reward parameters used when a stage defines none.
func DefaultPolicy() Policy {
	return Policy{
		BaseExperience:      100,
		BaseGold:            50,
		ExperiencePerEnemy:  10,
		ExperiencePerBoss:   50,
		GoldPerEnemy:        5,
		BossCurrencyPerKill: 1,
		RecruitBonus:        25,
	}
}

// Rewards is what the player receives for clearing a stage.
type Rewards struct {
	Rating       Rating `json:"rating"`
	Score        int    `json:"score"`
	Experience   int    `json:"experience"`
	Gold         int    `json:"gold"`
	BossCurrency int    `json:"boss_currency"`
	RecruitBonus int    `json:"recruit_bonus"`
}

// Score grades a performance out of roughly 100. Lost units and turns over
// par cost points, recruitments and boss kills earn them.
func Score(p Performance, parTurns int) int {
	score := 100 - 15*p.UnitsLost + 5*p.RecruitmentSuccesses + 5*p.BossesDefeated
	if parTurns > 0 && p.TurnsUsed > parTurns {
		score -= 5 * (p.TurnsUsed - parTurns)
	}
	if score < 0 {
		score = 0
	}
	return score
}

// Rate maps a score onto a rating.
func Rate(score int) Rating {
	switch {
	case score >= 100:
		return RatingS
	case score >= 80:
		return RatingA
	case score >= 60:
		return RatingB
	}
	return RatingC
}

// multiplier is applied to experience and gold, in percent.
func multiplier(r Rating) int {
	switch r {
	case RatingS:
		return 150
	case RatingA:
		return 125
	case RatingB:
		return 100
	}
	return 80
}

// Compute derives the rewards for a cleared stage. It is pure, so results can
// be cached by performance hash.
func Compute(p Performance, policy Policy) Rewards {
	score := Score(p, policy.ParTurns)
	rating := Rate(score)
	mult := multiplier(rating)

	exp := policy.BaseExperience + policy.ExperiencePerEnemy*p.EnemiesDefeated + policy.ExperiencePerBoss*p.BossesDefeated
	gold := policy.BaseGold + policy.GoldPerEnemy*p.EnemiesDefeated

	return Rewards{
		Rating:       rating,
		Score:        score,
		Experience:   exp * mult / 100,
		Gold:         gold * mult / 100,
		BossCurrency: policy.BossCurrencyPerKill * p.BossesDefeated,
		RecruitBonus: policy.RecruitBonus * p.RecruitmentSuccesses,
	}
}
