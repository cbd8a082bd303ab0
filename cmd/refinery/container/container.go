package container

import (
	"fmt"

	"github.com/draftwell/refinery/cmd/refinery/proxy"
	"github.com/draftwell/refinery/cmd/refinery/repository"
	"github.com/draftwell/refinery/cmd/refinery/service"
	"github.com/draftwell/refinery/common/auth"
	"github.com/draftwell/refinery/common/bootstrap"
	"github.com/draftwell/refinery/common/clients"
	"github.com/draftwell/refinery/common/events"
	"github.com/draftwell/refinery/common/policy"
	"github.com/draftwell/refinery/common/ratelimit"
)

// Container holds all initialized services and repositories (singleton pattern)
type Container struct {
	// Components
	Components *bootstrap.Components
	JWT        *auth.JWTManager
	Runtime    *clients.RuntimeClient
	Publisher  events.Publisher
	Limiter    *ratelimit.RateLimiter // nil disables rate limiting
	Policy     *policy.Evaluator
	Tasks      *service.TaskRunner

	// Repositories
	UserRepo     *repository.UserRepository
	WorkflowRepo *repository.WorkflowRepository
	DraftRepo    *repository.DraftRepository
	ProposalRepo *repository.ProposalRepository

	// Services
	AuthService     *service.AuthService
	WorkflowService *service.WorkflowService
	DraftService    *service.DraftLockService
	ProposalStore   *service.PgProposalStore
	Orchestration   *service.OrchestrationService
	Proxy           *proxy.RefinementProxy
}

// NewContainer initializes all services and repositories once
func NewContainer(components *bootstrap.Components) (*Container, error) {
	cfg := components.Config

	jwtManager, err := auth.NewJWTManager(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)
	if err != nil {
		return nil, fmt.Errorf("failed to create jwt manager: %w", err)
	}

	runtimeClient := clients.NewRuntimeClient(cfg.Runtime.BaseURL, cfg.Runtime.StreamURL, components.Logger, nil)

	// Redis-backed features degrade to no-ops when redis is not configured.
	var (
		publisher events.Publisher = events.NewNopPublisher()
		limiter   *ratelimit.RateLimiter
	)
	if components.Redis != nil {
		publisher = events.NewRedisPublisher(components.Redis, events.DefaultChannel, components.Logger)
		if cfg.RateLimit.Enabled {
			limiter = ratelimit.NewRateLimiter(components.Redis.GetUnderlying(), components.Logger)
		}
	}

	policyEval := policy.NewEvaluator(cfg.Policy.Expression)
	tasks := service.NewTaskRunner(components.Logger)

	// Initialize repositories
	userRepo := repository.NewUserRepository(components.DB)
	workflowRepo := repository.NewWorkflowRepository(components.DB)
	draftRepo := repository.NewDraftRepository(components.DB)
	proposalRepo := repository.NewProposalRepository(components.DB)

	// Initialize services (bottom-up: dependencies first)
	draftService := service.NewDraftLockService(components.DB, workflowRepo, draftRepo, components.Logger)
	proposalStore := service.NewPgProposalStore(components.DB, proposalRepo, draftService)
	orchestration := service.NewOrchestrationService(
		proposalStore,
		draftService,
		runtimeClient,
		publisher,
		policyEval,
		tasks,
		components.Logger,
	)
	workflowService := service.NewWorkflowService(workflowRepo, components.Logger)
	authService := service.NewAuthService(userRepo, jwtManager, components.Logger)
	streamProxy := proxy.NewRefinementProxy(orchestration, runtimeClient, jwtManager, tasks, components.Logger)

	return &Container{
		Components:      components,
		JWT:             jwtManager,
		Runtime:         runtimeClient,
		Publisher:       publisher,
		Limiter:         limiter,
		Policy:          policyEval,
		Tasks:           tasks,
		UserRepo:        userRepo,
		WorkflowRepo:    workflowRepo,
		DraftRepo:       draftRepo,
		ProposalRepo:    proposalRepo,
		AuthService:     authService,
		WorkflowService: workflowService,
		DraftService:    draftService,
		ProposalStore:   proposalStore,
		Orchestration:   orchestration,
		Proxy:           streamProxy,
	}, nil
}
