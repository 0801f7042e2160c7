package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"trustscore/internal/api"
	"trustscore/internal/shutdown"
	"trustscore/pkg/models"
)

var (
	configFile string
	envFile    string
	verbose    bool

	// score 参数
	chain   string
	timeout time.Duration
	compact bool

	// 透传到评分结果的信息
	metadataFile string
	referral     string
	referrer     string

	// serve 参数
	port int
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "trustscore",
		Short: "钱包信任分计算工具",
		Long:  `根据链上余额、活跃度、账龄和交易对手等数据为钱包地址计算[0,1]区间的信任分，并给出铸造折扣档位`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return loadEnv()
		},
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "configs/config.yaml", "配置文件路径")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "环境变量文件，不存在时忽略")
	rootCmd.PersistentFlags().BoolVar(&verbose, "verbose", false, "详细输出")

	scoreCmd := &cobra.Command{
		Use:   "score <address>",
		Short: "计算单个地址的信任分",
		Args:  cobra.ExactArgs(1),
		RunE:  runScore,
	}
	scoreCmd.Flags().StringVar(&chain, "chain", "ethereum", "区块链名称")
	scoreCmd.Flags().DurationVar(&timeout, "timeout", 2*time.Minute, "单次评分超时时间")
	scoreCmd.Flags().BoolVar(&compact, "compact", false, "输出单行JSON")
	scoreCmd.Flags().StringVar(&metadataFile, "metadata", "", "附加到结果的metadata JSON文件（migration/mint/did）")
	scoreCmd.Flags().StringVar(&referral, "referral-code", "", "附加到结果的推荐码")
	scoreCmd.Flags().StringVar(&referrer, "referrer-code", "", "附加到结果的推荐人推荐码")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "启动运维HTTP服务",
		RunE:  runServe,
	}
	serveCmd.Flags().IntVar(&port, "port", 0, "服务端口，0表示使用配置文件中的端口")

	cacheCmd := &cobra.Command{
		Use:   "cache",
		Short: "评分缓存管理",
	}
	cacheCmd.AddCommand(&cobra.Command{
		Use:   "purge",
		Short: "清空评分缓存",
		RunE:  runCachePurge,
	})

	chainsCmd := &cobra.Command{
		Use:   "chains",
		Short: "列出已配置数据源的区块链",
		RunE:  runChains,
	}

	rootCmd.AddCommand(scoreCmd, serveCmd, cacheCmd, chainsCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "执行失败: %v\n", err)
		os.Exit(1)
	}
}

// loadEnv 加载.env文件。显式指定的文件不存在时报错，默认文件不存在时忽略
func loadEnv() error {
	if envFile == "" {
		return nil
	}
	if _, err := os.Stat(envFile); err != nil {
		if os.IsNotExist(err) && envFile == ".env" {
			return nil
		}
		return fmt.Errorf("读取环境变量文件失败: %w", err)
	}
	if err := godotenv.Load(envFile); err != nil {
		return fmt.Errorf("加载环境变量文件失败: %w", err)
	}
	return nil
}

func runScore(cmd *cobra.Command, args []string) error {
	a, err := loadApp(true)
	if err != nil {
		return err
	}
	defer a.close()

	annotations, err := loadAnnotations()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()

	score, err := a.scorer.Score(ctx, args[0], chain)
	if err != nil {
		return err
	}
	score = score.Annotate(annotations)

	enc := json.NewEncoder(cmd.OutOrStdout())
	if !compact {
		enc.SetIndent("", "  ")
	}
	return enc.Encode(score)
}

// loadAnnotations 读取命令行指定的透传信息，评分流程不解析其内容
func loadAnnotations() (models.Annotations, error) {
	a := models.Annotations{ReferralCode: referral, ReferrerCode: referrer}
	if metadataFile == "" {
		return a, nil
	}
	raw, err := os.ReadFile(metadataFile)
	if err != nil {
		return a, fmt.Errorf("读取metadata文件失败: %w", err)
	}
	var md models.Metadata
	if err := json.Unmarshal(raw, &md); err != nil {
		return a, fmt.Errorf("解析metadata文件失败: %w", err)
	}
	a.Metadata = &md
	return a, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	a, err := loadApp(false)
	if err != nil {
		return err
	}

	listenPort := port
	if listenPort == 0 {
		listenPort = a.cfg.Server.Port
	}

	server := api.NewServer(api.Deps{
		Config:     a.cfg,
		Scorer:     a.scorer,
		Cache:      a.cache,
		Transports: a.transports,
		Limiters:   a.limiters,
		Recorder:   a.recorder,
		Metrics:    a.metrics,
		Logger:     a.logger,
	}, listenPort)

	gs := shutdown.NewGracefulShutdown(a.cfg.Server.ShutdownTimeout, a.logger)
	gs.RegisterShutdownFunc("停止运维服务", server.Stop, shutdown.OrderStopServer)
	a.registerShutdown(gs)

	a.cache.StartJanitor(a.cfg.Cache.CleanupInterval)
	gs.Start()

	serveErr := make(chan error, 1)
	go func() {
		if err := server.Start(); err != nil {
			serveErr <- err
			a.logger.Errorf("运维服务异常退出: %v", err)
			gs.Shutdown()
		}
	}()

	a.logger.WithField("chains", a.scorer.Chains()).Info("信任分服务已启动")
	gs.Wait()
	<-gs.Done()

	a.logger.Info("服务已关闭")
	select {
	case err := <-serveErr:
		return err
	default:
		return nil
	}
}

func runCachePurge(cmd *cobra.Command, args []string) error {
	a, err := loadApp(true)
	if err != nil {
		return err
	}
	defer a.close()

	n, err := a.cache.Purge()
	if err != nil {
		return fmt.Errorf("清空缓存失败: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "已删除 %d 条缓存评分\n", n)
	return nil
}

func runChains(cmd *cobra.Command, args []string) error {
	a, err := loadApp(true)
	if err != nil {
		return err
	}
	defer a.close()

	for _, name := range a.scorer.Chains() {
		fmt.Fprintln(cmd.OutOrStdout(), name)
	}
	return nil
}
