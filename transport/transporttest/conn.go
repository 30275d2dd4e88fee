// Package transporttest provides an in-memory transport.Conn and
// identity.Provider for exercising session logic without a server.
package transporttest

import (
	"context"
	"slices"
	"sync"

	"github.com/ggoodman/voicebot/transport"
)

const eventBuffer = 256

// DefaultChannel is where the fake places the bot when the descriptor names
// no channel.
const DefaultChannel transport.ChannelID = 1

// Conn is a scriptable transport.Conn. Scripting methods update the live view
// first and then emit the matching event, like a real transport.
type Conn struct {
	mu sync.Mutex

	events    chan transport.Event
	emitted   int
	connected bool
	self      transport.Client
	clients   map[transport.ClientID]transport.Client

	connectErrs []error
	failures    map[string]error
	grantErrs   map[string]error

	descriptors  []transport.Descriptor
	quitMessages []string
	calls        []string

	groups      map[transport.ClientDBID][]transport.ServerGroup
	keyGroups   map[string]transport.ServerGroup
	grants      map[transport.ServerGroupID][]transport.PermissionGrant
	nextGroupID transport.ServerGroupID
	dbInfo      map[transport.ClientDBID]transport.ClientDBInfo
	uids        map[transport.UID]transport.ClientDBID
	sent        []string
}

// New returns a disconnected fake whose own client will be self.
func New(self transport.Client) *Conn {
	return &Conn{
		events:      make(chan transport.Event, eventBuffer),
		self:        self,
		clients:     make(map[transport.ClientID]transport.Client),
		failures:    make(map[string]error),
		grantErrs:   make(map[string]error),
		groups:      make(map[transport.ClientDBID][]transport.ServerGroup),
		keyGroups:   make(map[string]transport.ServerGroup),
		grants:      make(map[transport.ServerGroupID][]transport.PermissionGrant),
		nextGroupID: 100,
		dbInfo:      make(map[transport.ClientDBID]transport.ClientDBInfo),
		uids:        make(map[transport.UID]transport.ClientDBID),
	}
}

func (c *Conn) emit(ev transport.Event) {
	c.mu.Lock()
	c.emitted++
	c.mu.Unlock()
	c.events <- ev
}

// --- scripting ---

// FailConnect queues errors returned by the next Connect calls, one each.
func (c *Conn) FailConnect(errs ...error) {
	c.mu.Lock()
	c.connectErrs = append(c.connectErrs, errs...)
	c.mu.Unlock()
}

// Fail makes every call of the named Commands method return err. A nil err
// clears the failure.
func (c *Conn) Fail(method string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err == nil {
		delete(c.failures, method)
		return
	}
	c.failures[method] = err
}

// FailGrant makes granting the named permission fail.
func (c *Conn) FailGrant(permission string, err error) {
	c.mu.Lock()
	c.grantErrs[permission] = err
	c.mu.Unlock()
}

// Drop ends the live session with reason and an optional server error.
func (c *Conn) Drop(reason transport.Reason, err *transport.CommandError) {
	c.mu.Lock()
	c.connected = false
	c.mu.Unlock()
	c.emit(transport.Disconnected{Reason: reason, Err: err})
}

// Enter adds a client to the view.
func (c *Conn) Enter(cl transport.Client) {
	c.mu.Lock()
	c.clients[cl.ID] = cl
	c.mu.Unlock()
	c.emit(transport.ClientEnterView{Client: cl, Target: cl.Channel})
}

// MoveClient moves a client, the bot included.
func (c *Conn) MoveClient(id transport.ClientID, target transport.ChannelID) {
	c.mu.Lock()
	cl := c.clients[id]
	source := cl.Channel
	cl.Channel = target
	c.clients[id] = cl
	if id == c.self.ID {
		c.self.Channel = target
	}
	c.mu.Unlock()
	c.emit(transport.ClientMoved{Client: id, Source: source, Target: target})
}

// Leave removes a client from the view.
func (c *Conn) Leave(id transport.ClientID, reason transport.Reason) {
	c.mu.Lock()
	source := c.clients[id].Channel
	delete(c.clients, id)
	c.mu.Unlock()
	c.emit(transport.ClientLeftView{Client: id, Source: source, Reason: reason})
}

func (c *Conn) PushError(err *transport.CommandError) {
	c.emit(transport.ErrorEvent{Err: err})
}

func (c *Conn) PushText(msg transport.TextMessage) {
	c.emit(msg)
}

// SetServerGroups sets the server groups the server reports for a client.
func (c *Conn) SetServerGroups(id transport.ClientDBID, groups ...transport.ServerGroup) {
	c.mu.Lock()
	c.groups[id] = slices.Clone(groups)
	c.mu.Unlock()
}

// AddPrivilegeKey makes redeeming key add the bot to group.
func (c *Conn) AddPrivilegeKey(key string, group transport.ServerGroup) {
	c.mu.Lock()
	c.keyGroups[key] = group
	c.mu.Unlock()
}

func (c *Conn) SetDBInfo(info transport.ClientDBInfo) {
	c.mu.Lock()
	c.dbInfo[info.DBID] = info
	c.uids[info.UID] = info.DBID
	c.mu.Unlock()
}

// --- inspection ---

func (c *Conn) Descriptors() []transport.Descriptor {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.descriptors)
}

func (c *Conn) QuitMessages() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.quitMessages)
}

// Calls lists the Commands methods invoked so far, in order.
func (c *Conn) Calls() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.calls)
}

func (c *Conn) CallCount(method string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, m := range c.calls {
		if m == method {
			n++
		}
	}
	return n
}

func (c *Conn) Grants(group transport.ServerGroupID) []transport.PermissionGrant {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.grants[group])
}

func (c *Conn) ServerGroups(id transport.ClientDBID) []transport.ServerGroup {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.groups[id])
}

// Sent lists delivered text messages as "target:message".
func (c *Conn) Sent() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.sent)
}

// Emitted counts the events sent on the Events channel so far.
func (c *Conn) Emitted() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.emitted
}

func (c *Conn) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// --- transport.Conn ---

func (c *Conn) Self() (transport.Client, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.connected {
		return transport.Client{}, false
	}
	return c.self, true
}

func (c *Conn) Clients() []transport.Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]transport.Client, 0, len(c.clients))
	for _, cl := range c.clients {
		out = append(out, cl)
	}
	slices.SortFunc(out, func(a, b transport.Client) int { return int(a.ID) - int(b.ID) })
	return out
}

func (c *Conn) Events() <-chan transport.Event { return c.events }

func (c *Conn) Connect(ctx context.Context, d transport.Descriptor) error {
	c.mu.Lock()
	c.descriptors = append(c.descriptors, d)
	if len(c.connectErrs) > 0 {
		err := c.connectErrs[0]
		c.connectErrs = c.connectErrs[1:]
		if err != nil {
			c.mu.Unlock()
			return err
		}
	}
	c.connected = true
	c.self.Channel = DefaultChannel
	if id, ok := transport.ParseChannelPath(d.DefaultChannel); ok {
		c.self.Channel = id
	}
	if d.Name != "" {
		c.self.Name = d.Name
	}
	c.clients[c.self.ID] = c.self
	c.mu.Unlock()

	c.emit(transport.Connected{})
	return nil
}

func (c *Conn) Disconnect(ctx context.Context, quitMessage string) error {
	c.mu.Lock()
	c.quitMessages = append(c.quitMessages, quitMessage)
	was := c.connected
	c.connected = false
	c.mu.Unlock()

	if was {
		c.emit(transport.Disconnected{Reason: transport.ReasonLeftServer})
	}
	return nil
}

// call records method and returns the scripted failure, if any.
func (c *Conn) call(method string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, method)
	if !c.connected {
		return transport.ErrNotConnected
	}
	return c.failures[method]
}

func (c *Conn) SendPrivateMessage(ctx context.Context, to transport.ClientID, message string) error {
	if err := c.call("SendPrivateMessage"); err != nil {
		return err
	}
	c.record("private:" + message)
	return nil
}

func (c *Conn) SendChannelMessage(ctx context.Context, message string) error {
	if err := c.call("SendChannelMessage"); err != nil {
		return err
	}
	c.record("channel:" + message)
	return nil
}

func (c *Conn) SendServerMessage(ctx context.Context, message string) error {
	if err := c.call("SendServerMessage"); err != nil {
		return err
	}
	c.record("server:" + message)
	return nil
}

func (c *Conn) record(s string) {
	c.mu.Lock()
	c.sent = append(c.sent, s)
	c.mu.Unlock()
}

func (c *Conn) KickFromServer(ctx context.Context, ids []transport.ClientID, reason string) error {
	return c.call("KickFromServer")
}

func (c *Conn) KickFromChannel(ctx context.Context, ids []transport.ClientID, reason string) error {
	return c.call("KickFromChannel")
}

func (c *Conn) ChangeDescription(ctx context.Context, id transport.ClientID, description string) error {
	return c.call("ChangeDescription")
}

func (c *Conn) ChangeBadges(ctx context.Context, badges string) error {
	if err := c.call("ChangeBadges"); err != nil {
		return err
	}
	c.record("badges:" + badges)
	return nil
}

func (c *Conn) ChangeName(ctx context.Context, name string) error {
	if err := c.call("ChangeName"); err != nil {
		return err
	}
	c.mu.Lock()
	c.self.Name = name
	c.clients[c.self.ID] = c.self
	c.mu.Unlock()
	return nil
}

func (c *Conn) UploadAvatar(ctx context.Context, image []byte) error {
	return c.call("UploadAvatar")
}

func (c *Conn) DeleteAvatar(ctx context.Context) error {
	return c.call("DeleteAvatar")
}

func (c *Conn) Move(ctx context.Context, id transport.ClientID, channel transport.ChannelID, password string) error {
	if err := c.call("Move"); err != nil {
		return err
	}
	c.MoveClient(id, channel)
	return nil
}

func (c *Conn) SetChannelCommander(ctx context.Context, enabled bool) error {
	return c.call("SetChannelCommander")
}

func (c *Conn) ClientList(ctx context.Context) ([]transport.Client, error) {
	if err := c.call("ClientList"); err != nil {
		return nil, err
	}
	return c.Clients(), nil
}

func (c *Conn) ClientInfo(ctx context.Context, id transport.ClientID) (transport.ClientInfo, error) {
	if err := c.call("ClientInfo"); err != nil {
		return transport.ClientInfo{}, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	cl, ok := c.clients[id]
	if !ok {
		return transport.ClientInfo{}, transport.NewError(transport.CodeClientInvalidID, "invalid clientID")
	}
	return transport.ClientInfo{Client: cl}, nil
}

func (c *Conn) ClientDBInfo(ctx context.Context, id transport.ClientDBID) (transport.ClientDBInfo, error) {
	if err := c.call("ClientDBInfo"); err != nil {
		return transport.ClientDBInfo{}, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	info, ok := c.dbInfo[id]
	if !ok {
		return transport.ClientDBInfo{}, transport.NewError(transport.CodeDatabaseEmptyResult, "database empty result set")
	}
	return info, nil
}

func (c *Conn) ClientDBIDFromUID(ctx context.Context, uid transport.UID) (transport.ClientDBID, error) {
	if err := c.call("ClientDBIDFromUID"); err != nil {
		return 0, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	id, ok := c.uids[uid]
	if !ok {
		return 0, transport.NewError(transport.CodeDatabaseEmptyResult, "database empty result set")
	}
	return id, nil
}

func (c *Conn) ServerGroupsByClientDBID(ctx context.Context, id transport.ClientDBID) ([]transport.ServerGroup, error) {
	if err := c.call("ServerGroupsByClientDBID"); err != nil {
		return nil, err
	}
	return c.ServerGroups(id), nil
}

func (c *Conn) PrivilegeKeyUse(ctx context.Context, key string) error {
	if err := c.call("PrivilegeKeyUse"); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	g, ok := c.keyGroups[key]
	if !ok {
		return transport.NewError(transport.CodeDatabaseEmptyResult, "invalid privilege key")
	}
	delete(c.keyGroups, key)
	c.groups[c.self.DBID] = append(c.groups[c.self.DBID], g)
	return nil
}

func (c *Conn) ServerGroupAdd(ctx context.Context, name string) (transport.ServerGroupID, error) {
	if err := c.call("ServerGroupAdd"); err != nil {
		return 0, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextGroupID++
	return c.nextGroupID, nil
}

func (c *Conn) ServerGroupAddClient(ctx context.Context, group transport.ServerGroupID, client transport.ClientDBID) error {
	if err := c.call("ServerGroupAddClient"); err != nil {
		return err
	}
	c.mu.Lock()
	c.groups[client] = append(c.groups[client], transport.ServerGroup{ID: group})
	c.mu.Unlock()
	return nil
}

func (c *Conn) ServerGroupDelClient(ctx context.Context, group transport.ServerGroupID, client transport.ClientDBID) error {
	if err := c.call("ServerGroupDelClient"); err != nil {
		return err
	}
	c.mu.Lock()
	c.groups[client] = slices.DeleteFunc(c.groups[client], func(g transport.ServerGroup) bool { return g.ID == group })
	c.mu.Unlock()
	return nil
}

func (c *Conn) ServerGroupAddPerm(ctx context.Context, group transport.ServerGroupID, grant transport.PermissionGrant) error {
	if err := c.call("ServerGroupAddPerm"); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.grantErrs[grant.Name]; err != nil {
		return err
	}
	c.grants[group] = append(c.grants[group], grant)
	return nil
}

var _ transport.Conn = (*Conn)(nil)
