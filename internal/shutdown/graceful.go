package shutdown

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"sync"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
)

// GracefulShutdown 优雅停机管理器
type GracefulShutdown struct {
	logger         *logrus.Logger
	timeout        time.Duration
	shutdownFuncs  []ShutdownFunc
	mu             sync.Mutex
	signalChan     chan os.Signal
	ctx            context.Context
	cancel         context.CancelFunc
	wg             sync.WaitGroup
	isShuttingDown bool
	done           chan struct{}
}

// ShutdownFunc 停机处理函数
type ShutdownFunc struct {
	Name  string
	Func  func(ctx context.Context) error
	Order int // 数字越小越早执行，相同顺序按注册先后执行
}

// NewGracefulShutdown 创建优雅停机管理器
func NewGracefulShutdown(timeout time.Duration, logger *logrus.Logger) *GracefulShutdown {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	ctx, cancel := context.WithCancel(context.Background())
	gs := &GracefulShutdown{
		logger:     logger,
		timeout:    timeout,
		signalChan: make(chan os.Signal, 1),
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
	}

	signal.Notify(gs.signalChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	return gs
}

// RegisterShutdownFunc 注册停机处理函数
func (gs *GracefulShutdown) RegisterShutdownFunc(name string, fn func(ctx context.Context) error, order int) {
	gs.mu.Lock()
	defer gs.mu.Unlock()

	gs.shutdownFuncs = append(gs.shutdownFuncs, ShutdownFunc{Name: name, Func: fn, Order: order})
	gs.logger.Debugf("注册停机处理函数: %s (order: %d)", name, order)
}

// Start 启动信号监听
func (gs *GracefulShutdown) Start() {
	gs.wg.Add(1)
	go gs.signalHandler()
	gs.logger.Info("优雅停机管理器已启动，监听信号: SIGINT, SIGTERM, SIGQUIT")
}

// Wait 等待停机完成
func (gs *GracefulShutdown) Wait() {
	gs.wg.Wait()
}

// Context 停机开始后被取消的上下文，后台任务据此退出
func (gs *GracefulShutdown) Context() context.Context {
	return gs.ctx
}

// Done 所有停机函数执行完毕后关闭
func (gs *GracefulShutdown) Done() <-chan struct{} {
	return gs.done
}

// Shutdown 手动触发停机，例如服务启动失败时。重复调用无副作用
func (gs *GracefulShutdown) Shutdown() {
	if !gs.begin() {
		return
	}
	gs.logger.Info("手动触发优雅停机...")
	gs.performShutdown()
}

func (gs *GracefulShutdown) signalHandler() {
	defer gs.wg.Done()

	select {
	case sig := <-gs.signalChan:
		gs.logger.Infof("收到停机信号: %v", sig)
		if !gs.begin() {
			gs.logger.Warn("停机过程已在进行中，忽略信号")
			return
		}
		gs.performShutdown()
	case <-gs.ctx.Done():
		// 手动停机由调用方所在的goroutine执行，这里等它结束
		<-gs.done
	}
}

// begin 标记停机开始，已在停机中时返回false
func (gs *GracefulShutdown) begin() bool {
	gs.mu.Lock()
	defer gs.mu.Unlock()
	if gs.isShuttingDown {
		return false
	}
	gs.isShuttingDown = true
	return true
}

// performShutdown 按顺序执行停机函数，超时后跳过剩余函数
func (gs *GracefulShutdown) performShutdown() {
	defer close(gs.done)
	gs.logger.Info("开始优雅停机流程...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), gs.timeout)
	defer shutdownCancel()

	// 先通知后台任务停止，再逐个关闭组件
	gs.cancel()

	var shutdownErrors []error
	for _, fn := range gs.orderedFuncs() {
		select {
		case <-shutdownCtx.Done():
			gs.logger.Warnf("停机超时，跳过剩余处理: %s", fn.Name)
			gs.report(shutdownErrors)
			return
		default:
		}

		gs.logger.Infof("执行停机处理: %s", fn.Name)
		start := time.Now()
		err := fn.Func(shutdownCtx)
		duration := time.Since(start)

		if err != nil {
			gs.logger.Errorf("停机处理 '%s' 失败 (耗时: %v): %v", fn.Name, duration, err)
			shutdownErrors = append(shutdownErrors, fmt.Errorf("%s: %w", fn.Name, err))
		} else {
			gs.logger.Infof("停机处理 '%s' 完成 (耗时: %v)", fn.Name, duration)
		}
	}

	gs.report(shutdownErrors)
	gs.logger.Info("优雅停机流程完成")
}

func (gs *GracefulShutdown) report(errs []error) {
	if len(errs) == 0 {
		return
	}
	gs.logger.Errorf("停机过程中发生 %d 个错误", len(errs))
	for _, err := range errs {
		gs.logger.Error(err)
	}
}

// orderedFuncs 返回按Order稳定排序后的停机函数副本
func (gs *GracefulShutdown) orderedFuncs() []ShutdownFunc {
	gs.mu.Lock()
	funcs := make([]ShutdownFunc, len(gs.shutdownFuncs))
	copy(funcs, gs.shutdownFuncs)
	gs.mu.Unlock()

	sort.SliceStable(funcs, func(i, j int) bool { return funcs[i].Order < funcs[j].Order })
	return funcs
}

// IsShuttingDown 检查是否正在停机
func (gs *GracefulShutdown) IsShuttingDown() bool {
	gs.mu.Lock()
	defer gs.mu.Unlock()
	return gs.isShuttingDown
}

// GetRegisteredFunctions 按执行顺序返回已注册的停机函数名称
func (gs *GracefulShutdown) GetRegisteredFunctions() []string {
	funcs := gs.orderedFuncs()
	names := make([]string, len(funcs))
	for i, fn := range funcs {
		names[i] = fn.Name
	}
	return names
}

// Close 停止监听信号，尚未停机时执行一次停机
func (gs *GracefulShutdown) Close() error {
	signal.Stop(gs.signalChan)
	gs.Shutdown()
	return nil
}

// WaitForShutdown 等待停机信号并执行停机
func (gs *GracefulShutdown) WaitForShutdown() {
	gs.Start()
	gs.Wait()
}

// 停机顺序：先停止对外服务，再关闭数据源出口，最后落盘并关闭评分缓存
const (
	OrderStopServer      = 10
	OrderStopJanitor     = 20
	OrderCloseTransports = 30
	OrderCloseCache      = 40
)
