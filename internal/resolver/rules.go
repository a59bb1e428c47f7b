package resolver

import (
	"fmt"
	"strings"
)

// RuleText 生成反向代理直出规则文本：匿名 GET、无 query、无登录 Cookie
// 且磁盘上存在对应文件时由代理直接回源文件，否则回落到应用。
// 纯函数，输出只取决于 host 与缓存根目录。
func (r *Resolver) RuleText(host string, excludeCookies []string) string {
	var b strings.Builder

	fmt.Fprintf(&b, "# page-vault serving rules for %s\n", host)
	b.WriteString("set $pv_serve 1;\n")
	b.WriteString("if ($request_method != GET) { set $pv_serve 0; }\n")
	b.WriteString("if ($args != \"\") { set $pv_serve 0; }\n")
	for _, cookie := range excludeCookies {
		fmt.Fprintf(&b, "if ($http_cookie ~* %q) { set $pv_serve 0; }\n", cookie)
	}
	fmt.Fprintf(&b, "set $pv_file %s/%s$uri/%s;\n", r.root, host, EntryFile)
	b.WriteString("if (!-f $pv_file) { set $pv_serve 0; }\n")
	b.WriteString("if ($pv_serve = 1) { rewrite .* $pv_file break; }\n")

	return b.String()
}
