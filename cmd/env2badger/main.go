package main

import (
	"flag"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/joho/godotenv"

	"github.com/betbot/bucketmm/pkg/secretstore"
)

// 把 .env 里的凭证灌进加密 badger，之后进程只靠 BUCKETMM_SECRETS_KEY 解锁。
// PRIVATE_KEY 归到 wallet/private_key（和 keyinit 同一条目），其余按 env/<变量名> 落库。

func main() {
	var (
		envPath   = flag.String("env", ".env", ".env 文件路径")
		dbPath    = flag.String("badger", getenv("BUCKETMM_SECRETS_PATH", "data/secrets"), "badger 凭证库路径")
		secretKey = flag.String("secret-key", getenv("BUCKETMM_SECRETS_KEY", ""), "badger 加密密钥（32 字节 base64/hex）")
		only      = flag.String("only", "", "只导入这些变量（逗号分隔），留空导入全部")
		dryRun    = flag.Bool("dry-run", false, "只打印将要写入的条目名，不落盘")
	)
	flag.Parse()

	keyBytes, err := secretstore.ParseKey(*secretKey)
	if err != nil {
		fatal(err)
	}
	if keyBytes == nil && !*dryRun {
		fatal(fmt.Errorf("缺加密密钥：设 BUCKETMM_SECRETS_KEY 或传 -secret-key"))
	}

	kv, err := godotenv.Read(*envPath)
	if err != nil {
		fatal(err)
	}

	keep := map[string]bool{}
	for _, name := range strings.Split(*only, ",") {
		if name = strings.TrimSpace(name); name != "" {
			keep[name] = true
		}
	}

	entries := map[string]string{}
	for name, v := range kv {
		if len(keep) > 0 && !keep[name] {
			continue
		}
		entries[refFor(name)] = v
	}
	if len(entries) == 0 {
		fatal(fmt.Errorf("%s 里没有可导入的变量", *envPath))
	}

	refs := make([]string, 0, len(entries))
	for ref := range entries {
		refs = append(refs, ref)
	}
	sort.Strings(refs)

	if *dryRun {
		for _, ref := range refs {
			fmt.Fprintln(os.Stderr, "将写入", ref)
		}
		return
	}

	ss, err := secretstore.Open(secretstore.OpenOptions{
		Path:          *dbPath,
		EncryptionKey: keyBytes,
		ReadOnly:      false,
	})
	if err != nil {
		fatal(err)
	}
	defer ss.Close()

	for _, ref := range refs {
		if err := ss.SetString(ref, entries[ref]); err != nil {
			fatal(err)
		}
	}
	fmt.Fprintf(os.Stderr, "已导入 %d 条到 %s：%s\n", len(refs), *dbPath, strings.Join(refs, " "))
	if _, ok := entries["wallet/private_key"]; ok {
		fmt.Fprintln(os.Stderr, `私钥已就位，配置里设 api.key_ref: "wallet/private_key"`)
	}
}

// refFor 私钥归到 keyinit 的标准条目，其余按来源变量名放 env/ 下
func refFor(name string) string {
	if name == "PRIVATE_KEY" {
		return "wallet/private_key"
	}
	return "env/" + name
}

func getenv(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, "error:", err.Error())
	os.Exit(1)
}
