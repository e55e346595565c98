package app

// Command はアプリケーションの起動モードを表す。
type Command string

const (
	// CommandServe は管理APIサーバーモードで起動することを示す。
	// COLLECTION_ENABLEDが有効な場合はスケジューラも同じプロセスで動かす。
	CommandServe Command = "serve"
	// CommandWorker はスケジューラのみで起動することを示す。
	CommandWorker Command = "worker"
	// CommandCollect は収集ランを1回実行して終了することを示す。
	CommandCollect Command = "collect"
	// CommandMigrate はデータベースマイグレーションを実行することを示す。
	CommandMigrate Command = "migrate"
	// CommandSeedSources はソースレジストリのYAMLをDBへ反映することを示す。
	CommandSeedSources Command = "seed-sources"
	// CommandReenrich は保存済みレコードにエンリッチ処理を再適用することを示す。
	CommandReenrich Command = "reenrich"
	// CommandHealthcheck はヘルスチェックを実行することを示す。
	// distroless環境でのDockerヘルスチェック用。
	CommandHealthcheck Command = "healthcheck"
)

// ParseCommand はコマンドライン引数からサブコマンドを解析する。
// 引数が空またはサポート外のコマンドの場合はCommandServeを返す。
func ParseCommand(args []string) Command {
	if len(args) == 0 {
		return CommandServe
	}

	switch Command(args[0]) {
	case CommandServe, CommandWorker, CommandCollect, CommandMigrate,
		CommandSeedSources, CommandReenrich, CommandHealthcheck:
		return Command(args[0])
	default:
		return CommandServe
	}
}
