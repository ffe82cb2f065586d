package bot

import (
	"fmt"
	"strings"
	"time"

	"likegate/pkg/likeapi"
	"likegate/pkg/models"
	"likegate/pkg/quota"
)

const (
	dateLayout = "2006-01-02"
	timeLayout = "15:04:05"
	footer     = "\n\n🔥 *DEVELOPER BY EM OFFICIAL TEAM* 🔥"
)

const (
	ownerOnlyText     = "❌ *Owner command only!*"
	groupsOnlyText    = "❌ *This command only works in groups!*"
	saveFailedText    = "⚠️ *Could not save your change right now.*\n🔄 It will be retried, please try again shortly."
	ownerNoVerifyText = "👑 *Owners are always verified.*\nNo verification needed."
	likeBusyText      = "⏳ *Your previous like request is still processing.*\nPlease wait for it to finish."
	likeUsageText     = "❌ *Invalid format!*\n📝 *Usage:* `/like <region> <uid>`\n🎯 *Example:* `/like bd 5914395123`\n📋 *Regions:* BD, IND, BR, US"
	setLimitUsageText = "❌ *Invalid format!*\n📝 *Usage:* `/setlimit <user_id> <limit>`\n🎯 *Example:* `/setlimit 123456789 5`"

	verificationCompletedText = "🎉 *VERIFICATION COMPLETED!* 🎉\n\n" +
		"🔐 Status: FULLY VERIFIED\n🎮 Access: GRANTED\n💎 Limits: ACTIVE\n\n" +
		"*YOU CAN NOW:*\n• Send Free Fire likes\n• Use all bot commands\n\n🎯 *TRY NOW:* `/like bd 5914395123`" + footer

	likeGuideText = "💎 *LIKE COMMAND GUIDE* 💎\n\n*FORMAT:*\n`/like <region> <uid>`\n\n" +
		"*REGIONS:*\n• *BD* - Bangladesh\n• *IND* - India\n• *BR* - Brazil\n• *US* - United States\n\n" +
		"*EXAMPLES:*\n• `/like bd 5914395123`\n• `/like ind 1234567890`\n• `/like br 9876543210`"
)

var mdEscaper = strings.NewReplacer("_", "\\_", "*", "\\*", "`", "\\`", "[", "\\[")

// md escapes user supplied text for Telegram's legacy Markdown.
func md(s string) string { return mdEscaper.Replace(s) }

func stamp(now time.Time) string {
	return fmt.Sprintf("\n📅 %s 🕐 %s", now.Format(dateLayout), now.Format(timeLayout))
}

func contactURL(contact string) string {
	return "https://t.me/" + strings.TrimPrefix(strings.TrimSpace(contact), "@")
}

func floodText(retry time.Duration) string {
	secs := int(retry.Round(time.Second) / time.Second)
	if secs < 1 {
		secs = 1
	}
	return fmt.Sprintf("🐢 *Slow down!* Try again in %ds.", secs)
}

func limitReachedText(used int, limit quota.Limit, contact string) string {
	return fmt.Sprintf("❌ *Daily limit reached!*\n📊 *Used:* %d/%s\n⏰ *Reset:* Tomorrow at 12:00 AM Nepal time\n👥 *Contact:* %s for limit increase",
		used, limit, md(contact))
}

func unauthorizedGroupText(contact string) string {
	return "❌ *UNAUTHORIZED GROUP*\n\n" +
		"• *Status:* ACCESS DENIED\n• *Reason:* Group not authorized by owner\n" +
		"• *Solution:* Owner must add this group first\n• *Contact:* " + md(contact) + " for authorization\n\n" +
		"⚠️ This bot only works in authorized groups\n👑 Owner must use /allow to authorize" + footer
}

func startText(name string, verified, owner bool, defaultLimit int, now time.Time) string {
	status := "❌ NOT VERIFIED"
	if verified {
		status = "✅ VERIFIED"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "👋 *Welcome, %s!*\n\n", md(strings.TrimSpace(name)))
	b.WriteString("🎮 *FREE FIRE LIKE BOT*\n\n")
	b.WriteString("• `/verify` - Complete verification\n• `/like <region> <uid>` - Send likes\n")
	b.WriteString("• `/stats` - Your statistics\n• `/help` - Help menu\n• `/contact` - Contact owner\n\n")
	fmt.Fprintf(&b, "⚡ *DEFAULT LIMIT:* %d likes/day\n🔐 *STATUS:* %s", defaultLimit, status)
	if owner {
		b.WriteString("\n👑 *OWNER STATUS: UNLIMITED ACCESS*")
	}
	b.WriteString(footer)
	b.WriteString(stamp(now))
	return b.String()
}

func verifyStepsText(now time.Time) string {
	return "🔐 *SIMPLE VERIFICATION SYSTEM* 🔐\n\n*FOLLOW THESE STEPS:*\n" +
		"1️⃣ Visit YouTube Channel\n2️⃣ Join Telegram Channel\n3️⃣ Join Telegram Group\n4️⃣ Join Discord Server\n\n" +
		"✅ Click \"Complete Done\" when finished" + footer + stamp(now)
}

func alreadyVerifiedText(at time.Time) string {
	since := "earlier"
	if !at.IsZero() {
		since = at.Format(dateLayout + " " + timeLayout)
	}
	return fmt.Sprintf("✅ *You are already verified!*\n📅 *Since:* %s\n🎯 Use `/like <region> <uid>` to send likes.", since)
}

func invalidRegionText(region string) string {
	return fmt.Sprintf("❌ *Invalid region: %s*\n📋 *Valid regions:* BD, IND, BR, US", md(region))
}

func invalidUIDText(uid string) string {
	return fmt.Sprintf("❌ *Invalid UID: %s*\n🆔 UID must be digits only.", md(uid))
}

func processingText(region, uid string) string {
	return fmt.Sprintf("⏳ *Processing your request...*\n🎮 *Region:* %s\n🆔 *UID:* `%s`\n⚡ *Please wait...*", region, uid)
}

func playerBlock(uid, region string, d likeapi.Details) string {
	return fmt.Sprintf("🆔 *UID:* `%s`\n👤 *Player:* %s\n🌍 *Region:* %s\n", uid, md(d.Nickname), region)
}

func likeSuccessText(uid, region string, d likeapi.Details, owner bool, used int, limit quota.Limit) string {
	var b strings.Builder
	b.WriteString("✅ *LIKES SENT SUCCESSFULLY!* ✅\n\n")
	b.WriteString(playerBlock(uid, region, d))
	fmt.Fprintf(&b, "💎 *Likes Before:* %s\n💎 *Likes After:* %s\n⚡ *Added:* +%s\n\n", thousands(d.Before), thousands(d.After), thousands(d.Added))
	b.WriteString("📈 *YOUR USAGE:*\n")
	if owner {
		b.WriteString("• *Used Today:* 👑 Owner\n• *Remaining:* ♾️ Unlimited")
	} else {
		fmt.Fprintf(&b, "• *Used Today:* %d/%s\n• *Remaining:* %s", used, limit, limit.Sub(used))
	}
	b.WriteString(footer)
	return b.String()
}

func likeAlreadyText(uid, region string, d likeapi.Details) string {
	return "⚠️ *LIKES ALREADY RECEIVED!* ⚠️\n\n" + playerBlock(uid, region, d) +
		fmt.Sprintf("💎 *Current Likes:* %s\n\n", thousands(d.Before)) +
		"ℹ️ This player has already received likes today!\n⏰ Try again tomorrow for fresh likes\n✅ Your daily usage was not charged." + footer
}

func likeNotFoundText(uid, region string) string {
	return fmt.Sprintf("❌ *PLAYER NOT FOUND!* ❌\n\n🆔 *UID:* `%s`\n🌍 *Region:* %s\n\n"+
		"⚠️ Please check the UID and region\n✅ Your daily usage was not charged.", uid, region) + footer
}

func likeUnknownText(uid, region string, code int, contact string) string {
	return fmt.Sprintf("❓ *UNKNOWN RESPONSE!* ❓\n\n🆔 *UID:* `%s`\n🌍 *Region:* %s\n📊 *Status Code:* %d\n\n"+
		"🔄 Please try again later\n👥 *Contact:* %s if problem persists", uid, region, code, md(contact)) + footer
}

func likeConnectionFailedText(uid, region, contact string) string {
	return fmt.Sprintf("❌ *API CONNECTION FAILED!* ❌\n\n🆔 *UID:* `%s`\n🌍 *Region:* %s\n📊 *Status:* CONNECTION FAILED\n\n"+
		"⚠️ Cannot connect to Free Fire API\n🔄 Please try again in a few minutes\n👥 *Contact:* %s if problem persists", uid, region, md(contact)) + footer
}

func ownerStatsText(user models.Identity, now time.Time) string {
	return fmt.Sprintf("👑 *OWNER STATISTICS* 👑\n\n🆔 *User ID:* `%s`\n👑 *Role:* OWNER\n🔐 *Verified:* ✅ ALWAYS\n"+
		"⚡ *Limits:* UNLIMITED\n🕐 *Reset:* NEVER\n\n*ADMIN COMMANDS:*\n• `/allow` - Add group to bot\n"+
		"• `/remove` - Remove group from bot\n• `/setlimit <user_id> <limit>` - Set user limit\n"+
		"• `/broadcast <message>` - Send message to all users", user) + footer + stamp(now)
}

func userStatsText(user models.Identity, verified bool, used int, limit quota.Limit, now time.Time) string {
	v, tip := "❌ NO", "Complete verification to use bot!"
	if verified {
		v, tip = "✅ YES", "Use /like command to send likes!"
	}
	return fmt.Sprintf("📊 *YOUR STATISTICS* 📊\n\n🆔 *User ID:* `%s`\n🔐 *Verified:* %s\n📊 *Used Today:* %d/%s\n"+
		"⚡ *Remaining:* %s\n🕐 *Reset:* Tomorrow 12:00 AM Nepal\n\n💡 *TIP:* %s", user, v, used, limit, limit.Sub(used), tip) + footer + stamp(now)
}

func helpText(contact string, now time.Time) string {
	return "🆘 *HELP & SUPPORT* 🆘\n\n*COMMAND LIST:*\n🏠 /start - Welcome & main menu\n🔐 /verify - Complete verification\n" +
		"💎 /like <region> <uid> - Send likes\n📊 /stats - Your statistics\n🆘 /help - This help menu\n👥 /contact - Contact owner\n\n" +
		"*LIKE COMMAND USAGE:*\n• *Format:* `/like <region> <uid>`\n• *Example:* `/like bd 5914395123`\n• *Regions:* BD, IND, BR, US\n\n" +
		"*IMPORTANT NOTES:*\n• You must verify before using\n• Daily limits apply (except owner)\n• Bot works only in authorized groups\n\n" +
		"👥 *NEED HELP?* Contact: " + md(contact) + footer + stamp(now)
}

func contactText(contact string, now time.Time) string {
	return "👥 *CONTACT INFORMATION* 👥\n\n👑 *Owner:* " + md(contact) + "\n🎮 *Discord:* Community Server\n" +
		"📢 *Channel:* Official Updates\n👥 *Group:* Support Group\n\n*WHAT YOU CAN CONTACT FOR:*\n" +
		"• Bot issues and errors\n• Limit increase requests\n• Group authorization\n• General support\n\n" +
		"⚡ *RESPONSE TIME:* Usually within 24 hours" + footer + stamp(now)
}

func statusText(healthy bool, now time.Time) string {
	status, storage := "🟢 ONLINE", "✅ Data Storage Working"
	if !healthy {
		status, storage = "🟡 LIMITED", "⚠️ Data Storage Retrying"
	}
	return fmt.Sprintf("📊 *QUICK BOT STATUS* 📊\n\n🤖 *Bot Status:* %s\n🕐 *Current Time:* %s\n📅 *Date:* %s\n\n"+
		"*SERVICE STATUS:*\n• ✅ Telegram API Connected\n• ✅ Commands Working\n• %s\n\n"+
		"*QUICK HELP:*\n• Use `/help` for command list\n• Use `/verify` to get verified\n• Use `/like bd <uid>` to send likes",
		status, now.Format(timeLayout), now.Format(dateLayout), storage) + footer
}

func commandListText(owner bool, defaultLimit int, now time.Time) string {
	var b strings.Builder
	if owner {
		b.WriteString("👑 *ALL COMMANDS - OWNER ACCESS* 👑\n\n")
	} else {
		b.WriteString("📋 *ALL COMMANDS* 📋\n\n")
	}
	b.WriteString("*USER COMMANDS:*\n🏠 /start - Welcome & main menu\n🔐 /verify - Complete verification\n" +
		"💎 /like <region> <uid> - Send likes\n📊 /stats - Your statistics\n🆘 /help - Help menu\n" +
		"👥 /contact - Contact owner\n🔄 /status - Quick bot status\n")
	if owner {
		b.WriteString("\n*OWNER COMMANDS:*\n✅ /allow - Authorize this group\n🚫 /remove - Remove this group\n" +
			"📊 /setlimit <user_id> <limit> - Set user limit\n📢 /broadcast <message> - Message all users\n" +
			"👥 /members - Group member info\n⏰ /uptime - Bot uptime\n👑 /ownerhelp - Owner guide\n🧪 /testowner - Test owner status\n")
	} else {
		fmt.Fprintf(&b, "\n⚡ *DAILY LIMIT:* %d likes per day\n", defaultLimit)
	}
	b.WriteString(footer)
	b.WriteString(stamp(now))
	return b.String()
}

func ownerHelpText(defaultLimit int, c census, groups []models.GroupRecord, pending int, now time.Time) string {
	var b strings.Builder
	b.WriteString("👑 *OWNER HELP & GUIDE* 👑\n\n*GROUP MANAGEMENT:*\n• `/allow` - Run inside a group to authorize it\n" +
		"• `/remove` - Run inside a group to remove it\n\n*USER MANAGEMENT:*\n• `/setlimit <user_id> <limit>` - Set daily limit\n" +
		"• `/broadcast <message>` - Message all users\n\n*OWNER PRIVILEGES:*\n• ♾️ Unlimited likes per day\n" +
		"• 🌐 Works in every group\n• 🔓 No verification required\n\n")
	fmt.Fprintf(&b, "*CURRENT SETTINGS:*\n• *Default Limit:* %d likes/day\n• *Total Users:* %d\n• *Verified Users:* %d\n"+
		"• *Custom Limits:* %d\n• *Likes Today:* %d\n• *Pending Broadcasts:* %d\n• *Allowed Groups:* %d\n",
		defaultLimit, c.Users, c.Verified, c.CustomLimits, c.UsedToday, pending, len(groups))
	for i, g := range groups {
		if i == 10 {
			fmt.Fprintf(&b, "  … and %d more\n", len(groups)-i)
			break
		}
		fmt.Fprintf(&b, "  • %s (`%s`)\n", md(g.Title), g.ID)
	}
	b.WriteString(footer)
	b.WriteString(stamp(now))
	return b.String()
}

func memberLine(m Member) string {
	username := "No username"
	if m.Username != "" {
		username = "@" + m.Username
	}
	return fmt.Sprintf("%s (%s) - ID: `%d`", md(strings.TrimSpace(m.FirstName+" "+m.LastName)), md(username), m.ID)
}

func membersText(chatID int64, info GroupInfo, now time.Time) string {
	var b strings.Builder
	fmt.Fprintf(&b, "👥 *GROUP MEMBER INFO*\n\n*Group Details:*\n• *Name:* %s\n• *ID:* `%d`\n• *Type:* %s\n• *Total Members:* %d\n\n",
		md(info.Title), chatID, info.Type, info.MemberCount)
	creator := "❌ Owner not found"
	var admins []string
	for _, m := range info.Admins {
		switch m.Status {
		case "creator":
			creator = "👑 " + memberLine(m)
		case "administrator":
			admins = append(admins, "⚙️ "+memberLine(m))
		}
	}
	fmt.Fprintf(&b, "*Group Owner:*\n%s\n\n*Administrators (%d):*\n", creator, len(admins))
	if len(admins) == 0 {
		b.WriteString("❌ No administrators\n")
	} else {
		b.WriteString(strings.Join(admins, "\n"))
		b.WriteString("\n")
	}
	b.WriteString("\n*Member Tracking:*\n• ✅ Join notifications: ON\n• ✅ Leave notifications: ON\n• 📩 Sent to: Owner accounts")
	b.WriteString(stamp(now))
	return b.String()
}

type uptime struct {
	Started    time.Time
	Now        time.Time
	HeapMB     uint64
	SysMB      uint64
	Goroutines int
	StoreDirty bool
	Census     census
}

func uptimeText(up uptime) string {
	d := up.Now.Sub(up.Started)
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	minutes := int(d.Minutes()) % 60
	seconds := int(d.Seconds()) % 60
	storage := "✅ Working"
	if up.StoreDirty {
		storage = "⚠️ Unsynced changes pending"
	}
	return fmt.Sprintf("⏰ *BOT UPTIME & STATUS* ⏰\n\n*Uptime Information:*\n• *Started:* %s\n• *Running For:* %dd %dh %dm %ds\n• *Current Time:* %s\n\n"+
		"*Runtime:*\n• *Heap In Use:* %d MB\n• *Reserved:* %d MB\n• *Goroutines:* %d\n\n"+
		"*Bot Statistics:*\n• *Total Users:* %d\n• *Verified Users:* %d\n• *Allowed Groups:* %d\n• *User Limits Set:* %d\n\n"+
		"*Status Checks:*\n• ✅ Bot Process: Running\n• ✅ Telegram API: Connected\n• %s Data Storage",
		up.Started.Format(dateLayout+" "+timeLayout), days, hours, minutes, seconds, up.Now.Format(dateLayout+" "+timeLayout),
		up.HeapMB, up.SysMB, up.Goroutines,
		up.Census.Users, up.Census.Verified, up.Census.Groups, up.Census.CustomLimits, storage) + footer
}

func memberNoticeText(joined bool, m Member, u Update, now time.Time) string {
	title := "🆕 *NEW MEMBER JOINED*"
	if !joined {
		title = "❌ *MEMBER LEFT GROUP*"
	}
	return fmt.Sprintf("%s\n\n*User Details:*\n• %s\n\n*Group Details:*\n• *Group:* %s\n• *Group ID:* `%d`\n• *Group Type:* %s",
		title, memberLine(m), md(u.ChatTitle), u.ChatID, u.ChatType) + stamp(now)
}

// thousands formats n with comma separators.
func thousands(n int64) string {
	s := fmt.Sprint(n)
	neg := strings.HasPrefix(s, "-")
	if neg {
		s = s[1:]
	}
	var b strings.Builder
	for i, c := range s {
		if i > 0 && (len(s)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(c)
	}
	if neg {
		return "-" + b.String()
	}
	return b.String()
}
