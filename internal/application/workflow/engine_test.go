package workflow

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/veritrail/veritrail/internal/domain/entity"
	domainwf "github.com/veritrail/veritrail/internal/domain/workflow"
)

// In-memory fakes. The engine's behavior spans several repository calls per
// operation, so stateful fakes give more honest coverage than per-call stubs.

type fakeDefinitionRepo struct {
	defs map[int64]*entity.WorkflowDefinition
}

func (r *fakeDefinitionRepo) Create(ctx context.Context, def *entity.WorkflowDefinition) error {
	r.defs[def.ID] = def
	return nil
}

func (r *fakeDefinitionRepo) GetByID(ctx context.Context, tenantID, id int64) (*entity.WorkflowDefinition, error) {
	def, ok := r.defs[id]
	if !ok || def.TenantID != tenantID {
		return nil, nil
	}
	return def, nil
}

func (r *fakeDefinitionRepo) List(ctx context.Context, tenantID int64, limit, offset int) ([]*entity.WorkflowDefinition, error) {
	return nil, nil
}

func (r *fakeDefinitionRepo) Update(ctx context.Context, def *entity.WorkflowDefinition) error {
	return nil
}

func (r *fakeDefinitionRepo) Deactivate(ctx context.Context, tenantID, id int64) error {
	return nil
}

func (r *fakeDefinitionRepo) Delete(ctx context.Context, tenantID, id int64) error {
	return nil
}

func (r *fakeDefinitionRepo) HasInstances(ctx context.Context, id int64) (bool, error) {
	return false, nil
}

type fakeInstanceRepo struct {
	nextID    int64
	instances map[int64]*entity.WorkflowInstance
}

func (r *fakeInstanceRepo) Create(ctx context.Context, instance *entity.WorkflowInstance) error {
	r.nextID++
	instance.ID = r.nextID
	stored := *instance
	r.instances[instance.ID] = &stored
	return nil
}

func (r *fakeInstanceRepo) GetByID(ctx context.Context, id int64) (*entity.WorkflowInstance, error) {
	stored, ok := r.instances[id]
	if !ok {
		return nil, nil
	}
	copy := *stored
	return &copy, nil
}

func (r *fakeInstanceRepo) GetActiveByEntity(ctx context.Context, tenantID int64, entityType, entityID string) (*entity.WorkflowInstance, error) {
	for _, inst := range r.instances {
		if inst.TenantID == tenantID && inst.EntityType == entityType && inst.EntityID == entityID &&
			!domainwf.State(inst.Status).IsTerminal() {
			copy := *inst
			return &copy, nil
		}
	}
	return nil, nil
}

func (r *fakeInstanceRepo) UpdateProgress(ctx context.Context, id int64, status string, currentStepOrder *int, completedAt *time.Time) error {
	inst := r.instances[id]
	inst.Status = status
	inst.CurrentStepOrder = currentStepOrder
	inst.CompletedAt = completedAt
	return nil
}

func (r *fakeInstanceRepo) MarkCancelled(ctx context.Context, id int64, cancelledBy string, at time.Time) error {
	inst := r.instances[id]
	inst.Status = entity.InstanceStatusCancelled
	inst.CurrentStepOrder = nil
	inst.CancelledBy = cancelledBy
	inst.CancelledAt = &at
	return nil
}

func (r *fakeInstanceRepo) List(ctx context.Context, tenantID int64, limit, offset int) ([]*entity.WorkflowInstance, error) {
	var out []*entity.WorkflowInstance
	for _, inst := range r.instances {
		if inst.TenantID == tenantID {
			copy := *inst
			out = append(out, &copy)
		}
	}
	return out, nil
}

type fakeExecutionRepo struct {
	nextID     int64
	executions []*entity.WorkflowStepExecution
}

func (r *fakeExecutionRepo) Create(ctx context.Context, exec *entity.WorkflowStepExecution) error {
	r.nextID++
	exec.ID = r.nextID
	stored := *exec
	r.executions = append(r.executions, &stored)
	return nil
}

func (r *fakeExecutionRepo) GetByInstanceID(ctx context.Context, instanceID int64) ([]*entity.WorkflowStepExecution, error) {
	var out []*entity.WorkflowStepExecution
	for _, e := range r.executions {
		if e.InstanceID == instanceID {
			copy := *e
			out = append(out, &copy)
		}
	}
	return out, nil
}

func (r *fakeExecutionRepo) GetPending(ctx context.Context, instanceID int64, stepOrder int) (*entity.WorkflowStepExecution, error) {
	for i := len(r.executions) - 1; i >= 0; i-- {
		e := r.executions[i]
		if e.InstanceID == instanceID && e.StepOrder == stepOrder && e.Status == entity.ExecutionStatusPending {
			copy := *e
			return &copy, nil
		}
	}
	return nil, nil
}

func (r *fakeExecutionRepo) Resolve(ctx context.Context, id int64, status, executedBy, comments string, at time.Time) error {
	for _, e := range r.executions {
		if e.ID == id {
			e.Status = status
			e.ExecutedBy = executedBy
			e.Comments = comments
			e.ExecutedAt = &at
			return nil
		}
	}
	return nil
}

// forInstance filters the audit trail for one instance in creation order
func (r *fakeExecutionRepo) forInstance(instanceID int64) []*entity.WorkflowStepExecution {
	var out []*entity.WorkflowStepExecution
	for _, e := range r.executions {
		if e.InstanceID == instanceID {
			out = append(out, e)
		}
	}
	return out
}

type fakeUserRepo struct {
	users map[string]*entity.User
}

func (r *fakeUserRepo) GetByID(ctx context.Context, id string) (*entity.User, error) {
	return r.users[id], nil
}

type fakeTxManager struct{}

func (m *fakeTxManager) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

type testEnv struct {
	engine    Engine
	defs      *fakeDefinitionRepo
	instances *fakeInstanceRepo
	execs     *fakeExecutionRepo
}

func newTestEnv(defs ...*entity.WorkflowDefinition) *testEnv {
	defRepo := &fakeDefinitionRepo{defs: make(map[int64]*entity.WorkflowDefinition)}
	for _, d := range defs {
		defRepo.defs[d.ID] = d
	}

	userRepo := &fakeUserRepo{users: map[string]*entity.User{
		"employee-1": {ID: "employee-1", TenantID: 1, Name: "Erin", Role: "employee", Active: true},
		"manager-1":  {ID: "manager-1", TenantID: 1, Name: "Mona", Role: "manager", Active: true},
		"finance-1":  {ID: "finance-1", TenantID: 1, Name: "Fay", Role: "finance", Active: true},
		"outsider-1": {ID: "outsider-1", TenantID: 2, Name: "Oz", Role: "manager", Active: true},
	}}

	instRepo := &fakeInstanceRepo{instances: make(map[int64]*entity.WorkflowInstance)}
	execRepo := &fakeExecutionRepo{}

	engine := NewEngine(
		defRepo,
		instRepo,
		execRepo,
		userRepo,
		&fakeTxManager{},
		domainwf.NewHandlerSet(nil, nil),
		zap.NewNop(),
	)

	return &testEnv{engine: engine, defs: defRepo, instances: instRepo, execs: execRepo}
}

func expenseDefinition() *entity.WorkflowDefinition {
	return &entity.WorkflowDefinition{
		ID:         1,
		TenantID:   1,
		Name:       "Expense Approval",
		EntityType: "expense_report",
		Active:     true,
		Steps: []entity.WorkflowStep{
			{StepOrder: 1, StepType: entity.StepTypeApproval, Name: "Manager Review", RequiredRoles: []string{"manager"}},
			{StepOrder: 2, StepType: entity.StepTypeNotification, Name: "Notify Finance", AutoAdvance: true},
			{StepOrder: 3, StepType: entity.StepTypeApproval, Name: "Finance Review", RequiredRoles: []string{"finance"}},
		},
	}
}

func startExpense(t *testing.T, env *testEnv) *entity.WorkflowInstance {
	t.Helper()
	inst, err := env.engine.StartWorkflow(context.Background(), StartRequest{
		DefinitionID: 1,
		TenantID:     1,
		EntityType:   "expense_report",
		EntityID:     "exp-42",
		ActorID:      "employee-1",
		ActorRole:    "employee",
	})
	require.NoError(t, err)
	return inst
}

func TestStartWorkflow_ParksOnFirstApproval(t *testing.T) {
	env := newTestEnv(expenseDefinition())

	inst := startExpense(t, env)

	assert.Equal(t, entity.InstanceStatusPendingApproval, inst.Status)
	require.NotNil(t, inst.CurrentStepOrder)
	assert.Equal(t, 1, *inst.CurrentStepOrder)
	assert.Equal(t, "employee-1", inst.StartedBy)

	execs := env.execs.forInstance(inst.ID)
	require.Len(t, execs, 1)
	assert.Equal(t, entity.ExecutionStatusPending, execs[0].Status)
	assert.Empty(t, execs[0].ExecutedBy, "parked execution carries no executor")
}

func TestStartWorkflow_AutoAdvanceChain(t *testing.T) {
	// The starter is authorized for step 1, so start should chain through the
	// notification and park on the finance gate.
	def := expenseDefinition()
	def.Steps[0].RequiredRoles = []string{"employee"}
	env := newTestEnv(def)

	inst := startExpense(t, env)

	assert.Equal(t, entity.InstanceStatusPendingApproval, inst.Status)
	require.NotNil(t, inst.CurrentStepOrder)
	assert.Equal(t, 3, *inst.CurrentStepOrder)

	execs := env.execs.forInstance(inst.ID)
	require.Len(t, execs, 3)
	assert.Equal(t, entity.ExecutionStatusApproved, execs[0].Status)
	assert.Equal(t, entity.ExecutionStatusApproved, execs[1].Status)
	assert.Equal(t, entity.StepTypeNotification, execs[1].StepType)
	assert.Equal(t, entity.ExecutionStatusPending, execs[2].Status)
}

func TestStartWorkflow_ZeroStepDefinitionCompletes(t *testing.T) {
	def := &entity.WorkflowDefinition{
		ID:         1,
		TenantID:   1,
		Name:       "No-op",
		EntityType: "expense_report",
		Active:     true,
	}
	env := newTestEnv(def)

	inst := startExpense(t, env)

	assert.Equal(t, entity.InstanceStatusApproved, inst.Status)
	assert.Nil(t, inst.CurrentStepOrder)
	assert.NotNil(t, inst.CompletedAt)
	assert.Empty(t, env.execs.forInstance(inst.ID))
}

func TestStartWorkflow_DuplicateActiveRejected(t *testing.T) {
	env := newTestEnv(expenseDefinition())

	startExpense(t, env)

	_, err := env.engine.StartWorkflow(context.Background(), StartRequest{
		DefinitionID: 1,
		TenantID:     1,
		EntityType:   "expense_report",
		EntityID:     "exp-42",
		ActorID:      "manager-1",
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, domainwf.ErrDuplicateActiveWorkflow)
}

func TestStartWorkflow_InvalidDefinition(t *testing.T) {
	inactive := expenseDefinition()
	inactive.Active = false

	wrongType := expenseDefinition()
	wrongType.ID = 2

	env := newTestEnv(inactive, wrongType)

	_, err := env.engine.StartWorkflow(context.Background(), StartRequest{
		DefinitionID: 1, TenantID: 1, EntityType: "expense_report", EntityID: "e", ActorID: "employee-1",
	})
	assert.ErrorIs(t, err, domainwf.ErrInvalidDefinition)

	_, err = env.engine.StartWorkflow(context.Background(), StartRequest{
		DefinitionID: 2, TenantID: 1, EntityType: "purchase_order", EntityID: "e", ActorID: "employee-1",
	})
	assert.ErrorIs(t, err, domainwf.ErrInvalidDefinition)

	_, err = env.engine.StartWorkflow(context.Background(), StartRequest{
		DefinitionID: 7, TenantID: 1, EntityType: "expense_report", EntityID: "e", ActorID: "employee-1",
	})
	assert.ErrorIs(t, err, domainwf.ErrInvalidDefinition)
}

func TestApproveStep_AuthorizedApproverAdvancesChain(t *testing.T) {
	env := newTestEnv(expenseDefinition())
	inst := startExpense(t, env)

	// Manager approves step 1. Step 1 itself does not auto-advance, but the
	// notification that follows it does, so the engine must run it without a
	// separate call and park on the finance gate.
	updated, err := env.engine.ApproveStep(context.Background(), inst.ID, 1, "manager-1", "looks fine")
	require.NoError(t, err)

	assert.Equal(t, entity.InstanceStatusPendingApproval, updated.Status)
	require.NotNil(t, updated.CurrentStepOrder)
	assert.Equal(t, 3, *updated.CurrentStepOrder)

	execs := env.execs.forInstance(inst.ID)
	// parked row + re-dispatched step 1 + notification + parked finance row
	require.Len(t, execs, 4)
	assert.Equal(t, entity.ExecutionStatusApproved, execs[0].Status)
	assert.Equal(t, "manager-1", execs[0].ExecutedBy)
	assert.Equal(t, "looks fine", execs[0].Comments)
	assert.Equal(t, 2, execs[2].StepOrder)
	assert.Equal(t, entity.StepTypeNotification, execs[2].StepType)
	assert.Equal(t, entity.ExecutionStatusApproved, execs[2].Status, "notification must auto-resolve")
	assert.Equal(t, 3, execs[3].StepOrder)
	assert.Equal(t, entity.ExecutionStatusPending, execs[3].Status)
}

func TestApproveStep_NonAutoApprovalHandsOffToAutoNextStep(t *testing.T) {
	// Approving a manual step whose successor is self-dispatching must not
	// strand the instance on the successor: the notification runs in the same
	// call and the instance ends up parked one step further on.
	env := newTestEnv(expenseDefinition())
	inst := startExpense(t, env)

	updated, err := env.engine.ApproveStep(context.Background(), inst.ID, 1, "manager-1", "ok")
	require.NoError(t, err)

	require.NotNil(t, updated.CurrentStepOrder)
	assert.NotEqual(t, 2, *updated.CurrentStepOrder, "instance must not park on the self-dispatching step")
	assert.Equal(t, 3, *updated.CurrentStepOrder)

	var stepTwo []*entity.WorkflowStepExecution
	for _, e := range env.execs.forInstance(inst.ID) {
		if e.StepOrder == 2 {
			stepTwo = append(stepTwo, e)
		}
	}
	require.Len(t, stepTwo, 1, "the notification step must leave an execution row")
	assert.Equal(t, entity.ExecutionStatusApproved, stepTwo[0].Status)
	assert.Equal(t, "manager-1", stepTwo[0].ExecutedBy)
}

func TestApproveStep_UnauthorizedApproverLeavesInstanceParked(t *testing.T) {
	env := newTestEnv(expenseDefinition())
	inst := startExpense(t, env)

	updated, err := env.engine.ApproveStep(context.Background(), inst.ID, 1, "employee-1", "approving my own report")
	require.NoError(t, err)

	// The gate fails again under the unauthorized actor: the instance stays
	// parked on the same step with a fresh pending row.
	assert.Equal(t, entity.InstanceStatusPendingApproval, updated.Status)
	require.NotNil(t, updated.CurrentStepOrder)
	assert.Equal(t, 1, *updated.CurrentStepOrder)

	execs := env.execs.forInstance(inst.ID)
	require.Len(t, execs, 2)
	assert.Equal(t, entity.ExecutionStatusApproved, execs[0].Status)
	assert.Equal(t, entity.ExecutionStatusPending, execs[1].Status)
}

func TestApproveStep_FullCompletion(t *testing.T) {
	env := newTestEnv(expenseDefinition())
	inst := startExpense(t, env)

	_, err := env.engine.ApproveStep(context.Background(), inst.ID, 1, "manager-1", "ok")
	require.NoError(t, err)

	final, err := env.engine.ApproveStep(context.Background(), inst.ID, 3, "finance-1", "within budget")
	require.NoError(t, err)

	assert.Equal(t, entity.InstanceStatusApproved, final.Status)
	assert.Nil(t, final.CurrentStepOrder)
	assert.NotNil(t, final.CompletedAt)
}

func TestApproveStep_Guards(t *testing.T) {
	env := newTestEnv(expenseDefinition())
	inst := startExpense(t, env)

	_, err := env.engine.ApproveStep(context.Background(), inst.ID, 3, "manager-1", "")
	assert.ErrorIs(t, err, domainwf.ErrWrongStep, "acting on a non-current step")

	_, err = env.engine.ApproveStep(context.Background(), inst.ID, 1, "ghost", "")
	assert.ErrorIs(t, err, domainwf.ErrUnknownActor)

	_, err = env.engine.ApproveStep(context.Background(), inst.ID, 1, "outsider-1", "")
	assert.ErrorIs(t, err, domainwf.ErrInstanceNotFound, "other tenant must not see the instance")

	_, err = env.engine.ApproveStep(context.Background(), 999, 1, "manager-1", "")
	assert.ErrorIs(t, err, domainwf.ErrInstanceNotFound)
}

func TestRejectStep_TerminatesInstance(t *testing.T) {
	env := newTestEnv(expenseDefinition())
	inst := startExpense(t, env)

	updated, err := env.engine.RejectStep(context.Background(), inst.ID, 1, "manager-1", "budget exceeded")
	require.NoError(t, err)

	assert.Equal(t, entity.InstanceStatusRejected, updated.Status)
	assert.Nil(t, updated.CurrentStepOrder)
	assert.NotNil(t, updated.CompletedAt)

	execs := env.execs.forInstance(inst.ID)
	require.Len(t, execs, 1)
	assert.Equal(t, entity.ExecutionStatusRejected, execs[0].Status)
	assert.Equal(t, "manager-1", execs[0].ExecutedBy)
	assert.Equal(t, "budget exceeded", execs[0].Comments)

	// Terminal instances accept no further actions
	_, err = env.engine.ApproveStep(context.Background(), inst.ID, 1, "manager-1", "")
	assert.ErrorIs(t, err, domainwf.ErrAlreadyTerminal)
}

func TestCancelWorkflow(t *testing.T) {
	env := newTestEnv(expenseDefinition())
	inst := startExpense(t, env)

	require.NoError(t, env.engine.CancelWorkflow(context.Background(), inst.ID, "employee-1"))

	stored, err := env.engine.GetInstance(context.Background(), 1, inst.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.InstanceStatusCancelled, stored.Status)
	assert.Equal(t, "employee-1", stored.CancelledBy)
	assert.NotNil(t, stored.CancelledAt)
	assert.Nil(t, stored.CurrentStepOrder)

	// The pending execution row stays pending: the audit trail records that
	// the step was never resolved.
	execs := env.execs.forInstance(inst.ID)
	require.Len(t, execs, 1)
	assert.Equal(t, entity.ExecutionStatusPending, execs[0].Status)

	err = env.engine.CancelWorkflow(context.Background(), inst.ID, "employee-1")
	assert.ErrorIs(t, err, domainwf.ErrAlreadyTerminal)
}

func TestActiveInstanceForEntity(t *testing.T) {
	env := newTestEnv(expenseDefinition())
	inst := startExpense(t, env)

	active, err := env.engine.ActiveInstanceForEntity(context.Background(), 1, "expense_report", "exp-42")
	require.NoError(t, err)
	assert.Equal(t, inst.ID, active.ID)
	assert.NotNil(t, active.Definition)
	assert.NotEmpty(t, active.Executions)

	_, err = env.engine.ActiveInstanceForEntity(context.Background(), 1, "expense_report", "exp-unknown")
	assert.ErrorIs(t, err, domainwf.ErrInstanceNotFound)
}

func TestStartWorkflow_RestartAfterTerminal(t *testing.T) {
	env := newTestEnv(expenseDefinition())
	inst := startExpense(t, env)

	_, err := env.engine.RejectStep(context.Background(), inst.ID, 1, "manager-1", "no")
	require.NoError(t, err)

	// A terminal instance frees the entity for a new run
	second := startExpense(t, env)
	assert.NotEqual(t, inst.ID, second.ID)
	assert.Equal(t, entity.InstanceStatusPendingApproval, second.Status)
}
