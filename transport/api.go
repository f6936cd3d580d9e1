package transport

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"

	"github.com/quickies-app/realtime-backend/chat"
	"github.com/quickies-app/realtime-backend/engagement"
	"github.com/quickies-app/realtime-backend/feed"
	"github.com/quickies-app/realtime-backend/follow"
	"github.com/quickies-app/realtime-backend/model"
	"github.com/quickies-app/realtime-backend/moderation"
	"github.com/quickies-app/realtime-backend/notification"
	"github.com/quickies-app/realtime-backend/presence"
	"github.com/quickies-app/realtime-backend/store"
)

// API exposes the engine's services over HTTP. Live surfaces (feed, presence)
// run over websockets; everything else is plain request/response.
type API struct {
	content *engagement.Service
	follows *follow.Service
	router  *notification.Router
	machine *moderation.Machine
	chats   *chat.Service
	agg     *feed.Aggregator
	tracker *presence.Tracker
	hub     *Hub
}

func NewAPI(
	content *engagement.Service,
	follows *follow.Service,
	router *notification.Router,
	machine *moderation.Machine,
	chats *chat.Service,
	agg *feed.Aggregator,
	tracker *presence.Tracker,
	hub *Hub,
) *API {
	return &API{
		content: content,
		follows: follows,
		router:  router,
		machine: machine,
		chats:   chats,
		agg:     agg,
		tracker: tracker,
		hub:     hub,
	}
}

func (a *API) Register(router *gin.Engine) {
	router.POST("/quickies", a.createQuickie)
	router.DELETE("/quickies/:id", a.deleteQuickie)
	router.POST("/quickies/:id/like", a.like)
	router.POST("/quickies/:id/unlike", a.unlike)
	router.POST("/quickies/:id/comments", a.addComment)

	router.POST("/follows", a.followUser)
	router.POST("/unfollows", a.unfollowUser)
	router.POST("/follow-requests/accept", a.acceptRequest)
	router.POST("/follow-requests/decline", a.declineRequest)
	router.GET("/users/:userId/following", a.following)
	router.GET("/users/:userId/followers", a.followers)
	router.POST("/users/:userId/profile", a.updateProfile)
	router.GET("/users/:userId/presence", a.presenceStatus)

	router.GET("/users/:userId/notifications", a.listNotifications)
	router.GET("/users/:userId/notifications/unread", a.unreadNotifications)
	router.POST("/notifications/:id/read", a.markNotificationRead)
	router.POST("/notifications/:id/dismiss", a.dismissNotification)

	router.POST("/reports", a.fileReport)
	router.POST("/reports/:id/decide", a.decideReport)
	router.GET("/reports/pending", a.pendingReports)

	router.POST("/conversations", a.createConversation)
	router.POST("/conversations/:id/messages", a.sendMessage)
	router.POST("/conversations/:id/read", a.markConversationRead)
	router.GET("/conversations/:id/messages", a.listMessages)
	router.GET("/users/:userId/conversations/unread", a.unreadConversations)

	router.GET("/ws/feed/:userId", a.serveFeed)
}

// abort maps the engine's error taxonomy onto HTTP status codes.
func abort(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, store.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, store.ErrPermissionDenied):
		status = http.StatusForbidden
	case errors.Is(err, store.ErrStateConflict):
		status = http.StatusConflict
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func (a *API) createQuickie(c *gin.Context) {
	var req model.Quickie
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	q, err := a.content.CreateQuickie(c.Request.Context(), req)
	if err != nil {
		abort(c, err)
		return
	}
	c.JSON(http.StatusCreated, q)
}

func (a *API) deleteQuickie(c *gin.Context) {
	err := a.content.DeleteQuickie(c.Request.Context(), c.Param("id"), c.Query("actorId"))
	if err != nil {
		abort(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type userRef struct {
	UserId string `json:"userId" binding:"required"`
}

func (a *API) like(c *gin.Context) {
	var req userRef
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := a.content.Like(c.Request.Context(), req.UserId, c.Param("id")); err != nil {
		abort(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (a *API) unlike(c *gin.Context) {
	var req userRef
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := a.content.Unlike(c.Request.Context(), req.UserId, c.Param("id")); err != nil {
		abort(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (a *API) addComment(c *gin.Context) {
	var req model.Comment
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := a.content.AddComment(c.Request.Context(), c.Param("id"), req); err != nil {
		abort(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"status": "ok"})
}

type followPair struct {
	FollowerId string `json:"followerId" binding:"required"`
	FolloweeId string `json:"followeeId" binding:"required"`
}

func (a *API) followUser(c *gin.Context) {
	var req followPair
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := a.follows.Follow(c.Request.Context(), req.FollowerId, req.FolloweeId); err != nil {
		abort(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (a *API) unfollowUser(c *gin.Context) {
	var req followPair
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := a.follows.Unfollow(c.Request.Context(), req.FollowerId, req.FolloweeId); err != nil {
		abort(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type requestPair struct {
	RequesterId string `json:"requesterId" binding:"required"`
	TargetId    string `json:"targetId" binding:"required"`
}

func (a *API) acceptRequest(c *gin.Context) {
	var req requestPair
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := a.follows.Accept(c.Request.Context(), req.RequesterId, req.TargetId); err != nil {
		abort(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (a *API) declineRequest(c *gin.Context) {
	var req requestPair
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := a.follows.Decline(c.Request.Context(), req.RequesterId, req.TargetId); err != nil {
		abort(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (a *API) following(c *gin.Context) {
	ids, err := a.follows.Following(c.Request.Context(), c.Param("userId"))
	if err != nil {
		abort(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"userIds": ids})
}

func (a *API) followers(c *gin.Context) {
	ids, err := a.follows.Followers(c.Request.Context(), c.Param("userId"))
	if err != nil {
		abort(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"userIds": ids})
}

func (a *API) updateProfile(c *gin.Context) {
	var req model.User
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	req.Id = c.Param("userId")
	if err := a.content.UpdateProfile(c.Request.Context(), req); err != nil {
		abort(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (a *API) presenceStatus(c *gin.Context) {
	active, err := a.tracker.IsActive(c.Request.Context(), c.Param("userId"))
	if err != nil {
		abort(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"active": active})
}

func (a *API) listNotifications(c *gin.Context) {
	ns, err := a.router.List(c.Request.Context(), c.Param("userId"))
	if err != nil {
		abort(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"notifications": ns})
}

func (a *API) unreadNotifications(c *gin.Context) {
	count, err := a.router.Unread(c.Request.Context(), c.Param("userId"))
	if err != nil {
		abort(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"unread": count})
}

func (a *API) markNotificationRead(c *gin.Context) {
	if err := a.router.MarkRead(c.Request.Context(), c.Param("id")); err != nil {
		abort(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (a *API) dismissNotification(c *gin.Context) {
	if err := a.router.Dismiss(c.Request.Context(), c.Param("id")); err != nil {
		abort(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type reportFiling struct {
	QuickieId  string `json:"quickieId" binding:"required"`
	ReporterId string `json:"reporterId" binding:"required"`
	Message    string `json:"message"`
}

func (a *API) fileReport(c *gin.Context) {
	var req reportFiling
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	err := a.machine.Report(c.Request.Context(), req.QuickieId, req.ReporterId, req.Message)
	if err != nil {
		abort(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"status": "ok"})
}

type reportDecision struct {
	Action moderation.Action  `json:"action" binding:"required"`
	Reason model.RejectReason `json:"reason"`
}

func (a *API) decideReport(c *gin.Context) {
	var req reportDecision
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	err := a.machine.Decide(c.Request.Context(), c.Param("id"), req.Action, req.Reason)
	if err != nil {
		abort(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (a *API) pendingReports(c *gin.Context) {
	reports, err := a.machine.PendingReports(c.Request.Context())
	if err != nil {
		abort(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"reports": reports})
}

type conversationRequest struct {
	Members []string `json:"members" binding:"required"`
	IsGroup bool     `json:"isGroup"`
}

func (a *API) createConversation(c *gin.Context) {
	var req conversationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	conv, err := a.chats.CreateConversation(c.Request.Context(), req.Members, req.IsGroup)
	if err != nil {
		abort(c, err)
		return
	}
	c.JSON(http.StatusCreated, conv)
}

type messageRequest struct {
	SenderId string `json:"senderId" binding:"required"`
	Text     string `json:"text"`
	MediaUrl string `json:"mediaUrl"`
}

func (a *API) sendMessage(c *gin.Context) {
	var req messageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	msg, err := a.chats.SendMessage(c.Request.Context(), c.Param("id"), req.SenderId, req.Text, req.MediaUrl)
	if err != nil {
		abort(c, err)
		return
	}
	c.JSON(http.StatusCreated, msg)
}

func (a *API) markConversationRead(c *gin.Context) {
	var req userRef
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := a.chats.MarkRead(c.Request.Context(), c.Param("id"), req.UserId); err != nil {
		abort(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (a *API) listMessages(c *gin.Context) {
	msgs, err := a.chats.Messages(c.Request.Context(), c.Param("id"))
	if err != nil {
		abort(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": msgs})
}

func (a *API) unreadConversations(c *gin.Context) {
	cs, err := a.chats.UnreadConversations(c.Request.Context(), c.Param("userId"))
	if err != nil {
		abort(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"conversations": cs})
}

// serveFeed streams a user's home feed over a websocket. Every converged view
// goes out as one JSON array; the client sends {"type":"extend"} to grow the
// window for infinite scroll.
func (a *API) serveFeed(c *gin.Context) {
	userId := c.Param("userId")
	conn, err := a.hub.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	f, err := a.agg.BuildFeed(c.Request.Context(), userId)
	if err != nil {
		_ = conn.WriteJSON(gin.H{"error": err.Error()})
		return
	}
	defer f.Close()

	// reader: extend requests and disconnect detection
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			var msg clientMessage
			if err := conn.ReadJSON(&msg); err != nil {
				return
			}
			if msg.Type == "extend" {
				f.ExtendWindow()
			}
		}
	}()

	for {
		select {
		case view, ok := <-f.Out():
			if !ok {
				return
			}
			if err := conn.WriteJSON(view); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}
