package service

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"connectrpc.com/connect"

	"github.com/mmynk/splitledger/internal/ledger"
	"github.com/mmynk/splitledger/internal/middleware"
	"github.com/mmynk/splitledger/internal/models"
)

// GroupServiceName is the fully-qualified name of the GroupService service.
const GroupServiceName = "splitledger.v1.GroupService"

// Procedure paths of GroupService.
const (
	GroupServiceCreateGroupProcedure      = "/splitledger.v1.GroupService/CreateGroup"
	GroupServiceGetGroupProcedure         = "/splitledger.v1.GroupService/GetGroup"
	GroupServiceUpdateGroupProcedure      = "/splitledger.v1.GroupService/UpdateGroup"
	GroupServiceDeleteGroupProcedure      = "/splitledger.v1.GroupService/DeleteGroup"
	GroupServiceCreateShareLinkProcedure  = "/splitledger.v1.GroupService/CreateShareLink"
	GroupServiceRevokeShareLinkProcedure  = "/splitledger.v1.GroupService/RevokeShareLink"
	GroupServiceJoinGroupProcedure        = "/splitledger.v1.GroupService/JoinGroup"
	GroupServiceApproveMemberProcedure    = "/splitledger.v1.GroupService/ApproveMember"
	GroupServiceUpdateMemberRoleProcedure = "/splitledger.v1.GroupService/UpdateMemberRole"
	GroupServiceRemoveMemberProcedure     = "/splitledger.v1.GroupService/RemoveMember"
	GroupServiceListMembersProcedure      = "/splitledger.v1.GroupService/ListMembers"
)

// GroupService implements the Connect GroupService: group settings,
// share links and membership.
type GroupService struct {
	ledger *ledger.Manager
}

// NewGroupService creates a new GroupService backed by the given manager.
func NewGroupService(manager *ledger.Manager) *GroupService {
	return &GroupService{ledger: manager}
}

// CreateGroup creates a new group with the caller as admin.
func (s *GroupService) CreateGroup(ctx context.Context, req *connect.Request[CreateGroupRequest]) (*connect.Response[GroupResponse], error) {
	slog.Info("CreateGroup request received", "name", req.Msg.Name)

	group, err := s.ledger.CreateGroup(ctx, ledger.CreateGroupInput{
		ActorID:         middleware.GetUserID(ctx),
		Name:            req.Msg.Name,
		Description:     req.Msg.Description,
		DefaultCurrency: req.Msg.DefaultCurrency,
		RequireApproval: req.Msg.RequireApproval,
		Permissions:     fromPermissions(req.Msg.Permissions),
		DisplayName:     req.Msg.DisplayName,
	})
	if err != nil {
		return nil, toConnectError(err)
	}

	slog.Info("Group created", "group_id", group.ID)
	return connect.NewResponse(&GroupResponse{Group: toGroup(group)}), nil
}

// GetGroup retrieves a group by ID.
func (s *GroupService) GetGroup(ctx context.Context, req *connect.Request[GetGroupRequest]) (*connect.Response[GroupResponse], error) {
	group, err := s.ledger.GetGroup(ctx, middleware.GetUserID(ctx), req.Msg.GroupID)
	if err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&GroupResponse{Group: toGroup(group)}), nil
}

// UpdateGroup changes group settings. Admin only.
func (s *GroupService) UpdateGroup(ctx context.Context, req *connect.Request[UpdateGroupRequest]) (*connect.Response[GroupResponse], error) {
	slog.Info("UpdateGroup request received", "group_id", req.Msg.GroupID)

	m := req.Msg
	group, err := s.ledger.UpdateGroup(ctx, ledger.UpdateGroupInput{
		ActorID:         middleware.GetUserID(ctx),
		GroupID:         m.GroupID,
		ExpectedVersion: m.ExpectedVersion,
		Patch: models.GroupPatch{
			Name:            m.Name,
			Description:     m.Description,
			DefaultCurrency: m.DefaultCurrency,
			RequireApproval: m.RequireApproval,
			Permissions:     fromPermissions(m.Permissions),
		},
	})
	if err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&GroupResponse{Group: toGroup(group)}), nil
}

// DeleteGroup deletes a settled group.
func (s *GroupService) DeleteGroup(ctx context.Context, req *connect.Request[DeleteGroupRequest]) (*connect.Response[Empty], error) {
	slog.Info("DeleteGroup request received", "group_id", req.Msg.GroupID)

	err := s.ledger.DeleteGroup(ctx, ledger.DeleteGroupInput{
		ActorID:         middleware.GetUserID(ctx),
		GroupID:         req.Msg.GroupID,
		ExpectedVersion: req.Msg.ExpectedVersion,
	})
	if err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&Empty{}), nil
}

// CreateShareLink issues an invitation token for a group.
func (s *GroupService) CreateShareLink(ctx context.Context, req *connect.Request[CreateShareLinkRequest]) (*connect.Response[CreateShareLinkResponse], error) {
	result, err := s.ledger.CreateShareLink(ctx, ledger.CreateShareLinkInput{
		ActorID: middleware.GetUserID(ctx),
		GroupID: req.Msg.GroupID,
		TTL:     time.Duration(req.Msg.TTLSeconds) * time.Second,
	})
	if err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&CreateShareLinkResponse{
		Token:     result.Token,
		GroupID:   result.Link.GroupID,
		ExpiresAt: result.Link.ExpiresAt,
	}), nil
}

// RevokeShareLink invalidates a share link.
func (s *GroupService) RevokeShareLink(ctx context.Context, req *connect.Request[RevokeShareLinkRequest]) (*connect.Response[Empty], error) {
	err := s.ledger.RevokeShareLink(ctx, ledger.RevokeShareLinkInput{
		ActorID: middleware.GetUserID(ctx),
		GroupID: req.Msg.GroupID,
		Token:   req.Msg.Token,
	})
	if err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&Empty{}), nil
}

// JoinGroup redeems a share link for the caller.
func (s *GroupService) JoinGroup(ctx context.Context, req *connect.Request[JoinGroupRequest]) (*connect.Response[JoinGroupResponse], error) {
	result, err := s.ledger.JoinGroup(ctx, ledger.JoinGroupInput{
		Token:       req.Msg.Token,
		UserID:      middleware.GetUserID(ctx),
		DisplayName: req.Msg.DisplayName,
	})
	if err != nil {
		return nil, toConnectError(err)
	}

	slog.Info("JoinGroup resolved",
		"group_id", result.Membership.GroupID,
		"outcome", result.Outcome,
	)
	return connect.NewResponse(&JoinGroupResponse{
		Outcome: string(result.Outcome),
		Member:  toMember(result.Membership),
	}), nil
}

// ApproveMember activates a pending membership. Admin only.
func (s *GroupService) ApproveMember(ctx context.Context, req *connect.Request[MemberRequest]) (*connect.Response[MemberResponse], error) {
	member, err := s.ledger.ApproveMember(ctx, ledger.ApproveMemberInput{
		ActorID:         middleware.GetUserID(ctx),
		GroupID:         req.Msg.GroupID,
		UserID:          req.Msg.UserID,
		ExpectedVersion: req.Msg.ExpectedVersion,
	})
	if err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&MemberResponse{Member: toMember(member)}), nil
}

// UpdateMemberRole changes a member's role. Admin only.
func (s *GroupService) UpdateMemberRole(ctx context.Context, req *connect.Request[UpdateMemberRoleRequest]) (*connect.Response[MemberResponse], error) {
	member, err := s.ledger.UpdateMemberRole(ctx, ledger.UpdateMemberRoleInput{
		ActorID:         middleware.GetUserID(ctx),
		GroupID:         req.Msg.GroupID,
		UserID:          req.Msg.UserID,
		Role:            models.Role(req.Msg.Role),
		ExpectedVersion: req.Msg.ExpectedVersion,
	})
	if err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&MemberResponse{Member: toMember(member)}), nil
}

// RemoveMember removes a member, or lets the caller leave.
func (s *GroupService) RemoveMember(ctx context.Context, req *connect.Request[MemberRequest]) (*connect.Response[Empty], error) {
	slog.Info("RemoveMember request received",
		"group_id", req.Msg.GroupID,
		"user_id", req.Msg.UserID,
	)

	err := s.ledger.RemoveMember(ctx, ledger.RemoveMemberInput{
		ActorID:         middleware.GetUserID(ctx),
		GroupID:         req.Msg.GroupID,
		UserID:          req.Msg.UserID,
		ExpectedVersion: req.Msg.ExpectedVersion,
	})
	if err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&Empty{}), nil
}

// ListMembers lists the memberships of a group, pending ones included.
func (s *GroupService) ListMembers(ctx context.Context, req *connect.Request[ListMembersRequest]) (*connect.Response[ListMembersResponse], error) {
	members, err := s.ledger.ListMembers(ctx, middleware.GetUserID(ctx), req.Msg.GroupID)
	if err != nil {
		return nil, toConnectError(err)
	}

	out := make([]Member, len(members))
	for i, m := range members {
		out[i] = toMember(m)
	}
	return connect.NewResponse(&ListMembersResponse{Members: out}), nil
}

// NewGroupServiceHandler builds an HTTP handler for every GroupService procedure.
func NewGroupServiceHandler(svc *GroupService, opts ...connect.HandlerOption) (string, http.Handler) {
	opts = withCodec(opts)
	mux := http.NewServeMux()
	mux.Handle(GroupServiceCreateGroupProcedure, connect.NewUnaryHandler(GroupServiceCreateGroupProcedure, svc.CreateGroup, opts...))
	mux.Handle(GroupServiceGetGroupProcedure, connect.NewUnaryHandler(GroupServiceGetGroupProcedure, svc.GetGroup, opts...))
	mux.Handle(GroupServiceUpdateGroupProcedure, connect.NewUnaryHandler(GroupServiceUpdateGroupProcedure, svc.UpdateGroup, opts...))
	mux.Handle(GroupServiceDeleteGroupProcedure, connect.NewUnaryHandler(GroupServiceDeleteGroupProcedure, svc.DeleteGroup, opts...))
	mux.Handle(GroupServiceCreateShareLinkProcedure, connect.NewUnaryHandler(GroupServiceCreateShareLinkProcedure, svc.CreateShareLink, opts...))
	mux.Handle(GroupServiceRevokeShareLinkProcedure, connect.NewUnaryHandler(GroupServiceRevokeShareLinkProcedure, svc.RevokeShareLink, opts...))
	mux.Handle(GroupServiceJoinGroupProcedure, connect.NewUnaryHandler(GroupServiceJoinGroupProcedure, svc.JoinGroup, opts...))
	mux.Handle(GroupServiceApproveMemberProcedure, connect.NewUnaryHandler(GroupServiceApproveMemberProcedure, svc.ApproveMember, opts...))
	mux.Handle(GroupServiceUpdateMemberRoleProcedure, connect.NewUnaryHandler(GroupServiceUpdateMemberRoleProcedure, svc.UpdateMemberRole, opts...))
	mux.Handle(GroupServiceRemoveMemberProcedure, connect.NewUnaryHandler(GroupServiceRemoveMemberProcedure, svc.RemoveMember, opts...))
	mux.Handle(GroupServiceListMembersProcedure, connect.NewUnaryHandler(GroupServiceListMembersProcedure, svc.ListMembers, opts...))
	return "/" + GroupServiceName + "/", mux
}

// GroupServiceClient is a client for the GroupService.
type GroupServiceClient struct {
	createGroup      *connect.Client[CreateGroupRequest, GroupResponse]
	getGroup         *connect.Client[GetGroupRequest, GroupResponse]
	updateGroup      *connect.Client[UpdateGroupRequest, GroupResponse]
	deleteGroup      *connect.Client[DeleteGroupRequest, Empty]
	createShareLink  *connect.Client[CreateShareLinkRequest, CreateShareLinkResponse]
	revokeShareLink  *connect.Client[RevokeShareLinkRequest, Empty]
	joinGroup        *connect.Client[JoinGroupRequest, JoinGroupResponse]
	approveMember    *connect.Client[MemberRequest, MemberResponse]
	updateMemberRole *connect.Client[UpdateMemberRoleRequest, MemberResponse]
	removeMember     *connect.Client[MemberRequest, Empty]
	listMembers      *connect.Client[ListMembersRequest, ListMembersResponse]
}

// NewGroupServiceClient constructs a client for the GroupService at baseURL.
func NewGroupServiceClient(httpClient connect.HTTPClient, baseURL string, opts ...connect.ClientOption) *GroupServiceClient {
	opts = withClientCodec(opts)
	return &GroupServiceClient{
		createGroup:      connect.NewClient[CreateGroupRequest, GroupResponse](httpClient, baseURL+GroupServiceCreateGroupProcedure, opts...),
		getGroup:         connect.NewClient[GetGroupRequest, GroupResponse](httpClient, baseURL+GroupServiceGetGroupProcedure, opts...),
		updateGroup:      connect.NewClient[UpdateGroupRequest, GroupResponse](httpClient, baseURL+GroupServiceUpdateGroupProcedure, opts...),
		deleteGroup:      connect.NewClient[DeleteGroupRequest, Empty](httpClient, baseURL+GroupServiceDeleteGroupProcedure, opts...),
		createShareLink:  connect.NewClient[CreateShareLinkRequest, CreateShareLinkResponse](httpClient, baseURL+GroupServiceCreateShareLinkProcedure, opts...),
		revokeShareLink:  connect.NewClient[RevokeShareLinkRequest, Empty](httpClient, baseURL+GroupServiceRevokeShareLinkProcedure, opts...),
		joinGroup:        connect.NewClient[JoinGroupRequest, JoinGroupResponse](httpClient, baseURL+GroupServiceJoinGroupProcedure, opts...),
		approveMember:    connect.NewClient[MemberRequest, MemberResponse](httpClient, baseURL+GroupServiceApproveMemberProcedure, opts...),
		updateMemberRole: connect.NewClient[UpdateMemberRoleRequest, MemberResponse](httpClient, baseURL+GroupServiceUpdateMemberRoleProcedure, opts...),
		removeMember:     connect.NewClient[MemberRequest, Empty](httpClient, baseURL+GroupServiceRemoveMemberProcedure, opts...),
		listMembers:      connect.NewClient[ListMembersRequest, ListMembersResponse](httpClient, baseURL+GroupServiceListMembersProcedure, opts...),
	}
}

func (c *GroupServiceClient) CreateGroup(ctx context.Context, req *connect.Request[CreateGroupRequest]) (*connect.Response[GroupResponse], error) {
	return c.createGroup.CallUnary(ctx, req)
}

func (c *GroupServiceClient) GetGroup(ctx context.Context, req *connect.Request[GetGroupRequest]) (*connect.Response[GroupResponse], error) {
	return c.getGroup.CallUnary(ctx, req)
}

func (c *GroupServiceClient) UpdateGroup(ctx context.Context, req *connect.Request[UpdateGroupRequest]) (*connect.Response[GroupResponse], error) {
	return c.updateGroup.CallUnary(ctx, req)
}

func (c *GroupServiceClient) DeleteGroup(ctx context.Context, req *connect.Request[DeleteGroupRequest]) (*connect.Response[Empty], error) {
	return c.deleteGroup.CallUnary(ctx, req)
}

func (c *GroupServiceClient) CreateShareLink(ctx context.Context, req *connect.Request[CreateShareLinkRequest]) (*connect.Response[CreateShareLinkResponse], error) {
	return c.createShareLink.CallUnary(ctx, req)
}

func (c *GroupServiceClient) RevokeShareLink(ctx context.Context, req *connect.Request[RevokeShareLinkRequest]) (*connect.Response[Empty], error) {
	return c.revokeShareLink.CallUnary(ctx, req)
}

func (c *GroupServiceClient) JoinGroup(ctx context.Context, req *connect.Request[JoinGroupRequest]) (*connect.Response[JoinGroupResponse], error) {
	return c.joinGroup.CallUnary(ctx, req)
}

func (c *GroupServiceClient) ApproveMember(ctx context.Context, req *connect.Request[MemberRequest]) (*connect.Response[MemberResponse], error) {
	return c.approveMember.CallUnary(ctx, req)
}

func (c *GroupServiceClient) UpdateMemberRole(ctx context.Context, req *connect.Request[UpdateMemberRoleRequest]) (*connect.Response[MemberResponse], error) {
	return c.updateMemberRole.CallUnary(ctx, req)
}

func (c *GroupServiceClient) RemoveMember(ctx context.Context, req *connect.Request[MemberRequest]) (*connect.Response[Empty], error) {
	return c.removeMember.CallUnary(ctx, req)
}

func (c *GroupServiceClient) ListMembers(ctx context.Context, req *connect.Request[ListMembersRequest]) (*connect.Response[ListMembersResponse], error) {
	return c.listMembers.CallUnary(ctx, req)
}
