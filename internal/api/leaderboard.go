package api

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/firdavs625/groupquiz/internal/archive"
	"github.com/firdavs625/groupquiz/internal/errors"
	"github.com/firdavs625/groupquiz/internal/leaderboard"
)

func (a *API) GetLeaderboard(c *gin.Context) {
	limit, err := queryInt(c, "limit")
	if err != nil {
		fail(c, err)
		return
	}

	es, err := a.ls.GetLeaderboard(c.Request.Context(), leaderboard.GetLeaderboardRequest{Limit: limit})
	if err != nil {
		fail(c, err)
		return
	}

	ok(c, gin.H{"leaderboard": es})
}

func (a *API) GetUserStats(c *gin.Context) {
	userID, err := strconv.ParseInt(c.Param("userId"), 10, 64)
	if err != nil {
		fail(c, errors.Invalid("userId must be a number"))
		return
	}

	e, err := a.ls.GetUserStats(c.Request.Context(), leaderboard.GetUserStatsRequest{UserID: userID})
	if err != nil {
		fail(c, err)
		return
	}

	ok(c, gin.H{"stats": e})
}

// GetSessionRanking returns the live standings of one session.
func (a *API) GetSessionRanking(c *gin.Context) {
	id := c.Query("sessionId")
	if id == "" {
		fail(c, errors.Invalid("sessionId is required"))
		return
	}

	limit, err := queryInt(c, "limit")
	if err != nil {
		fail(c, err)
		return
	}

	rs, err := a.ls.GetSessionRanking(c.Request.Context(), leaderboard.GetSessionRankingRequest{
		SessionID: id,
		Limit:     limit,
	})
	if err != nil {
		fail(c, err)
		return
	}

	ok(c, gin.H{"ranking": rs})
}

func (a *API) ListVariants(c *gin.Context) {
	vs, err := a.vc.ListVariants(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}

	ok(c, gin.H{"variants": vs})
}

func (a *API) ListHistory(c *gin.Context) {
	userID, err := strconv.ParseInt(c.Query("userId"), 10, 64)
	if err != nil {
		fail(c, errors.Invalid("userId is required"))
		return
	}

	limit, err := queryInt(c, "limit")
	if err != nil {
		fail(c, err)
		return
	}

	hs, err := a.as.ListHistory(c.Request.Context(), archive.ListHistoryRequest{UserID: userID, Limit: limit})
	if err != nil {
		fail(c, err)
		return
	}

	ok(c, gin.H{"history": hs})
}

func queryInt(c *gin.Context, key string) (int, error) {
	v := c.Query(key)
	if v == "" {
		return 0, nil
	}

	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, errors.Invalid("%s must be a non-negative number", key)
	}

	return n, nil
}
